package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

var plantsCmd = &cobra.Command{
	Use:   "plants",
	Short: "List power plants, or the UEVCBs of an organization",
	Long: `Lists the power plants that can be passed to extract --plant-id.
With --org, lists the settlement units (UEVCB) of that organization instead.`,
	RunE: runPlants,
}

func init() {
	plantsCmd.Flags().Int64("org", 0, "organization id whose UEVCBs are listed")
	plantsCmd.Flags().String("search", "", "only show entries whose name contains this text")
	plantsCmd.Flags().Bool("json", false, "print JSON instead of a table")
}

var (
	tableHeader = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00")).Bold(true)
	tableID     = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Width(8)
	tableMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// plantRow is one line of the plants or UEVCB listing
type plantRow struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	EIC  string `json:"eic,omitempty"`
}

func runPlants(cmd *cobra.Command, _ []string) error {
	config := loadConfig()
	initLogger(config.Debug, config.LogFormat)

	if err := config.ValidateCredentials(); err != nil {
		return err
	}

	org, _ := cmd.Flags().GetInt64("org")
	search, _ := cmd.Flags().GetString("search")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, stop := commandContext()
	defer stop()

	client := newClient(config, logger)
	if _, err := client.Authenticate(ctx, config.API.Username, config.API.Password); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	rows, err := listPlants(ctx, client, org)
	if err != nil {
		return err
	}
	rows = filterPlants(rows, search)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	printPlants(os.Stdout, rows, org)
	return nil
}

func listPlants(ctx context.Context, client *epias.Client, org int64) ([]plantRow, error) {
	if org > 0 {
		units, err := client.UEVCBs(ctx, org)
		if err != nil {
			return nil, err
		}
		rows := make([]plantRow, len(units))
		for i, u := range units {
			rows[i] = plantRow{ID: u.ID, Name: u.Name, EIC: u.EIC}
		}
		return rows, nil
	}

	plants, err := client.Plants(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]plantRow, len(plants))
	for i, p := range plants {
		rows[i] = plantRow{ID: p.ID, Name: p.Name, EIC: p.EIC}
	}
	return rows, nil
}

// filterPlants keeps rows whose name contains search, ignoring case. Turkish
// dotted and dotless i are folded so "ataturk" finds "ATATÜRK".
func filterPlants(rows []plantRow, search string) []plantRow {
	search = foldName(search)
	if search == "" {
		return rows
	}
	var matched []plantRow
	for _, row := range rows {
		if strings.Contains(foldName(row.Name), search) {
			matched = append(matched, row)
		}
	}
	return matched
}

var nameFolder = strings.NewReplacer(
	"İ", "i", "I", "i", "ı", "i",
	"Ş", "s", "ş", "s",
	"Ğ", "g", "ğ", "g",
	"Ü", "u", "ü", "u",
	"Ö", "o", "ö", "o",
	"Ç", "c", "ç", "c",
)

func foldName(s string) string {
	return strings.ToLower(nameFolder.Replace(strings.TrimSpace(s)))
}

func printPlants(w io.Writer, rows []plantRow, org int64) {
	title := "Power plants"
	if org > 0 {
		title = fmt.Sprintf("UEVCBs of organization %d", org)
	}
	fmt.Fprintln(w, tableHeader.Render(fmt.Sprintf("%s (%d)", title, len(rows))))
	fmt.Fprintln(w, tableHeader.Render(fmt.Sprintf("%-8s %s", "ID", "Name")))
	for _, row := range rows {
		line := tableID.Render(strconv.FormatInt(row.ID, 10)) + " " + row.Name
		if row.EIC != "" {
			line += " " + tableMuted.Render(row.EIC)
		}
		fmt.Fprintln(w, line)
	}
}
