package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
	"github.com/airframesio/epias-extractor/cmd/epias"
	"github.com/airframesio/epias-extractor/cmd/store"
)

var (
	viewerUpgrader = websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool {
			return true // the viewer is served on localhost
		},
	}

	// logBroadcast feeds /ws/logs. It stays nil unless a viewer runs in this
	// process, which keeps logging free of any channel work.
	logBroadcast chan LogMessage
)

var viewerCmd = &cobra.Command{
	Use:   "viewer",
	Short: "Start a web server to watch checkpoints and the running extraction",
	Long:  `Starts a local web server showing every checkpoint in the configured store and the progress of the extraction running on this machine.`,
	RunE:  runViewer,
}

func init() {
	viewerCmd.Flags().IntP("port", "p", 8080, "Port to run the web server on")
}

// clientWrapper serializes writes to one websocket connection
type clientWrapper struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (cw *clientWrapper) writeJSON(v interface{}) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	_ = cw.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return cw.conn.WriteJSON(v)
}

// WSMessage is a frame of the /ws stream
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type LogMessage struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// CheckpointSummary describes one stored checkpoint
type CheckpointSummary struct {
	Key             string            `json:"key"`
	Start           string            `json:"start"`
	End             string            `json:"end"`
	PlantID         *int64            `json:"plantId,omitempty"`
	ChunkDays       int               `json:"chunkDays"`
	CompletedChunks int               `json:"completedChunks"`
	TotalChunks     int               `json:"totalChunks"`
	Progress        float64           `json:"progress"`
	Records         int               `json:"records"`
	ChunkErrors     map[string]string `json:"chunkErrors,omitempty"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

type CheckpointResponse struct {
	Checkpoints []CheckpointSummary `json:"checkpoints"`
	Timestamp   time.Time           `json:"timestamp"`
}

type StatusResponse struct {
	ExtractorRunning bool      `json:"extractorRunning"`
	PID              int       `json:"pid,omitempty"`
	CurrentTask      *TaskInfo `json:"currentTask,omitempty"`
	Version          string    `json:"version"`
	UpdateAvailable  bool      `json:"updateAvailable"`
	LatestVersion    string    `json:"latestVersion,omitempty"`
	ReleaseURL       string    `json:"releaseUrl,omitempty"`
}

// summarizeCheckpoint counts planned chunks and fetched records
func summarizeCheckpoint(cp *store.Checkpoint) CheckpointSummary {
	summary := CheckpointSummary{
		Key:             cp.JobKey,
		Start:           cp.Start.In(epias.Location).Format(coordinator.DateLayout),
		End:             cp.End.In(epias.Location).Format(coordinator.DateLayout),
		PlantID:         cp.PlantID,
		ChunkDays:       cp.ChunkDays,
		CompletedChunks: len(cp.Completed),
		ChunkErrors:     cp.ChunkErrors,
		UpdatedAt:       cp.UpdatedAt,
	}
	if chunks, err := coordinator.Plan(cp.Start, cp.End, cp.ChunkDays); err == nil {
		summary.TotalChunks = len(chunks)
	}
	if summary.TotalChunks > 0 {
		summary.Progress = float64(summary.CompletedChunks) / float64(summary.TotalChunks)
	} else {
		summary.Progress = 1
	}
	for _, records := range cp.Records {
		summary.Records += len(records)
	}
	return summary
}

// Viewer serves checkpoint and task state over HTTP and websockets
type Viewer struct {
	checkpoints store.CheckpointStore
	watchDirs   []string
	logger      *slog.Logger
	logs        <-chan LogMessage

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*clientWrapper

	logClientsMu sync.RWMutex
	logClients   map[*websocket.Conn]*clientWrapper

	broadcast chan interface{}
	startOnce sync.Once
}

// NewViewer creates a viewer over a checkpoint store. Changes under watchDirs
// trigger pushes; logs, when non-nil, is streamed to /ws/logs.
func NewViewer(checkpoints store.CheckpointStore, watchDirs []string, logs <-chan LogMessage, logger *slog.Logger) *Viewer {
	return &Viewer{
		checkpoints: checkpoints,
		watchDirs:   watchDirs,
		logger:      logger,
		logs:        logs,
		clients:     make(map[*websocket.Conn]*clientWrapper),
		logClients:  make(map[*websocket.Conn]*clientWrapper),
		broadcast:   make(chan interface{}, 100),
	}
}

// Handler returns the viewer routes
func (v *Viewer) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/", gin.WrapF(v.serveHTML))
	engine.GET("/api/checkpoints", gin.WrapF(v.serveCheckpoints))
	engine.GET("/api/status", gin.WrapF(v.serveStatus))
	engine.GET("/ws", gin.WrapF(v.handleWebSocket))
	engine.GET("/ws/logs", gin.WrapF(v.handleLogsWebSocket))
	return engine
}

// Start launches the background broadcasters until ctx ends. It is safe to
// call more than once.
func (v *Viewer) Start(ctx context.Context) {
	v.startOnce.Do(func() {
		go v.broadcastManager(ctx)
		go v.dataMonitor(ctx)
		if v.logs != nil {
			go v.logBroadcastManager(ctx)
		}
	})
}

// Run serves on addr until ctx is cancelled
func (v *Viewer) Run(ctx context.Context, addr string) error {
	v.Start(ctx)

	server := &http.Server{
		Addr:              addr,
		Handler:           v.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (v *Viewer) loadCheckpoints(ctx context.Context) (CheckpointResponse, error) {
	response := CheckpointResponse{
		Checkpoints: []CheckpointSummary{},
		Timestamp:   time.Now(),
	}

	keys, err := v.checkpoints.List(ctx)
	if err != nil {
		return response, err
	}
	for _, key := range keys {
		cp, err := v.checkpoints.Load(ctx, key)
		if err != nil {
			continue
		}
		response.Checkpoints = append(response.Checkpoints, summarizeCheckpoint(cp))
	}
	sort.Slice(response.Checkpoints, func(i, j int) bool {
		return response.Checkpoints[i].UpdatedAt.After(response.Checkpoints[j].UpdatedAt)
	})
	return response, nil
}

func currentStatus() StatusResponse {
	response := StatusResponse{Version: Version}

	if versionCheckResult != nil {
		response.UpdateAvailable = versionCheckResult.UpdateAvailable
		response.LatestVersion = versionCheckResult.LatestVersion
		response.ReleaseURL = versionCheckResult.ReleaseURL
	}

	if pid, err := ReadPIDFile(); err == nil && IsProcessRunning(pid) {
		response.ExtractorRunning = true
		response.PID = pid
		if taskInfo, err := ReadTaskInfo(); err == nil {
			response.CurrentTask = taskInfo
		}
	}
	return response
}

func (v *Viewer) serveHTML(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(viewerHTML))
}

func (v *Viewer) serveCheckpoints(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")

	response, err := v.loadCheckpoints(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(response)
}

func (v *Viewer) serveStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(currentStatus())
}

func (v *Viewer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := viewerUpgrader.Upgrade(w, r, nil)
	if err != nil {
		v.logger.Debug(fmt.Sprintf("WebSocket upgrade error: %v", err))
		return
	}
	defer conn.Close()

	wrapper := &clientWrapper{conn: conn}
	v.clientsMu.Lock()
	v.clients[conn] = wrapper
	v.clientsMu.Unlock()
	defer func() {
		v.clientsMu.Lock()
		delete(v.clients, conn)
		v.clientsMu.Unlock()
	}()

	if data, err := v.loadCheckpoints(r.Context()); err == nil {
		_ = wrapper.writeJSON(WSMessage{Type: "checkpoints", Data: data})
	}
	_ = wrapper.writeJSON(WSMessage{Type: "status", Data: currentStatus()})

	// Reads only detect the client going away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (v *Viewer) handleLogsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := viewerUpgrader.Upgrade(w, r, nil)
	if err != nil {
		v.logger.Debug(fmt.Sprintf("Logs WebSocket upgrade error: %v", err))
		return
	}
	defer conn.Close()

	v.logClientsMu.Lock()
	v.logClients[conn] = &clientWrapper{conn: conn}
	v.logClientsMu.Unlock()
	defer func() {
		v.logClientsMu.Lock()
		delete(v.logClients, conn)
		v.logClientsMu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				v.logger.Debug(fmt.Sprintf("Logs WebSocket error: %v", err))
			}
			return
		}
	}
}

// fanOut writes msg to every client and drops the ones that fail
func fanOut(mu *sync.RWMutex, clients map[*websocket.Conn]*clientWrapper, msg interface{}) {
	mu.RLock()
	var failed []*websocket.Conn
	for conn, wrapper := range clients {
		if err := wrapper.writeJSON(msg); err != nil {
			failed = append(failed, conn)
		}
	}
	mu.RUnlock()

	if len(failed) > 0 {
		mu.Lock()
		for _, conn := range failed {
			if wrapper, exists := clients[conn]; exists {
				wrapper.conn.Close()
				delete(clients, conn)
			}
		}
		mu.Unlock()
	}
}

func (v *Viewer) broadcastManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-v.broadcast:
			fanOut(&v.clientsMu, v.clients, msg)
		}
	}
}

func (v *Viewer) logBroadcastManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-v.logs:
			if !ok {
				return
			}
			fanOut(&v.logClientsMu, v.logClients, msg)
		}
	}
}

func (v *Viewer) queue(msg WSMessage) {
	select {
	case v.broadcast <- msg:
	default:
	}
}

func (v *Viewer) broadcastCheckpoints(ctx context.Context) {
	if data, err := v.loadCheckpoints(ctx); err == nil {
		v.queue(WSMessage{Type: "checkpoints", Data: data})
	}
}

func (v *Viewer) broadcastStatus() {
	v.queue(WSMessage{Type: "status", Data: currentStatus()})
}

// dataMonitor pushes updates when checkpoint or task files change, with a
// periodic refresh for stores that are not on disk
func (v *Viewer) dataMonitor(ctx context.Context) {
	refresh := time.NewTicker(2 * time.Second)
	defer refresh.Stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		v.logger.Warn(fmt.Sprintf("⚠️  File watcher unavailable, polling only: %v", err))
		for {
			select {
			case <-ctx.Done():
				return
			case <-refresh.C:
				v.broadcastCheckpoints(ctx)
				v.broadcastStatus()
			}
		}
	}
	defer watcher.Close()

	for _, dir := range v.watchDirs {
		_ = os.MkdirAll(dir, 0o755)
		if err := watcher.Add(dir); err != nil {
			v.logger.Warn(fmt.Sprintf("⚠️  Failed to watch %s: %v", dir, err))
		}
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			isTask := strings.HasSuffix(event.Name, "current_task.json")
			isCheckpoint := strings.HasSuffix(event.Name, ".json") && !isTask
			if !isTask && !isCheckpoint {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				if isCheckpoint {
					v.broadcastCheckpoints(ctx)
				}
				v.broadcastStatus()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			v.logger.Debug(fmt.Sprintf("File watcher error: %v", err))
		case <-refresh.C:
			v.broadcastCheckpoints(ctx)
			v.broadcastStatus()
		}
	}
}

// enableLogBroadcast must run before the logger is built so every record
// reaches /ws/logs
func enableLogBroadcast() chan LogMessage {
	if logBroadcast == nil {
		logBroadcast = make(chan LogMessage, 1000)
	}
	return logBroadcast
}

func runViewer(cmd *cobra.Command, _ []string) error {
	config := loadConfig()
	logs := enableLogBroadcast()
	initLogger(config.Debug, config.LogFormat)

	if err := config.validateCheckpoint(); err != nil {
		return err
	}

	ctx, stop := commandContext()
	defer stop()

	checkpoints, closeStore, err := openCheckpointStore(ctx, config)
	if err != nil {
		return err
	}
	defer closeStore()

	port, _ := cmd.Flags().GetInt("port")
	addr := fmt.Sprintf(":%d", port)

	logger.Info("")
	logger.Info("⚡ EPİAŞ Extractor Viewer")
	logger.Info(fmt.Sprintf("📊 Starting web server on http://localhost%s", addr))
	logger.Info("⌨️  Press Ctrl+C to stop the server")

	viewer := NewViewer(checkpoints, viewerWatchDirs(config), logs, logger)
	return viewer.Run(ctx, addr)
}

// viewerWatchDirs lists the directories whose changes the viewer pushes
func viewerWatchDirs(config *Config) []string {
	dirs := []string{stateDir()}
	if config.Checkpoint.Store == storeFile {
		dirs = append(dirs, config.Checkpoint.Dir)
	}
	return dirs
}
