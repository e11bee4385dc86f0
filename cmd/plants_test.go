package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterPlants(t *testing.T) {
	rows := []plantRow{
		{ID: 1, Name: "ATATÜRK HES"},
		{ID: 2, Name: "Soma Termik Santrali"},
		{ID: 3, Name: "IŞIKLAR RES"},
		{ID: 4, Name: "Çan-2 TES"},
	}

	tests := []struct {
		search string
		want   []int64
	}{
		{search: "", want: []int64{1, 2, 3, 4}},
		{search: "  ", want: []int64{1, 2, 3, 4}},
		{search: "ataturk", want: []int64{1}},
		{search: "Atatürk", want: []int64{1}},
		{search: "isiklar", want: []int64{3}},
		{search: "ışıklar", want: []int64{3}},
		{search: "can-2", want: []int64{4}},
		{search: "tes", want: []int64{4}},
		{search: "santral", want: []int64{2}},
		{search: "nükleer", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			var got []int64
			for _, row := range filterPlants(rows, tt.search) {
				got = append(got, row.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintPlants(t *testing.T) {
	var buf bytes.Buffer
	printPlants(&buf, []plantRow{{ID: 2614, Name: "SOMA B", EIC: "40W000000000123X"}}, 0)
	out := buf.String()
	assert.Contains(t, out, "Power plants (1)")
	assert.Contains(t, out, "2614")
	assert.Contains(t, out, "SOMA B")
	assert.Contains(t, out, "40W000000000123X")

	buf.Reset()
	printPlants(&buf, nil, 195)
	assert.Contains(t, buf.String(), "UEVCBs of organization 195 (0)")
}
