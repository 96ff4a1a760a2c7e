package timetravel

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// CSVHeader is the first row written by ExportCSV.
var CSVHeader = []string{"index", "eventId", "userId", "eventType", "timestamp", "description", "changedKeys"}

// ExportJSON writes snaps as an indented JSON array.
func ExportJSON(w io.Writer, snaps []Snapshot) error {
	if snaps == nil {
		snaps = []Snapshot{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snaps); err != nil {
		return fmt.Errorf("export json: %w", err)
	}
	return nil
}

// ExportCSV writes one row per snapshot. changedKeys lists the diff keys
// in sorted order, separated by ";".
func ExportCSV(w io.Writer, snaps []Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	for _, s := range snaps {
		keys := make([]string, 0, len(s.Diff))
		for k := range s.Diff {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		row := []string{
			strconv.Itoa(s.Index),
			s.EventID,
			s.UserID,
			string(s.EventType),
			strconv.FormatInt(s.Timestamp, 10),
			s.Description,
			strings.Join(keys, ";"),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	return nil
}
