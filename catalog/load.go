package catalog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

const sniffSize = 2048

// Load reads catalog records from a JSON array, CSV or JSONL file.
// Records missing an id or text are skipped.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return Parse(path, data)
}

// Parse sniffs the format of data and decodes it. name is used in error messages.
func Parse(name string, data []byte) ([]Record, error) {
	head := data
	if len(head) > sniffSize {
		head = head[:sniffSize]
	}

	var (
		sources []map[string]any
		err     error
	)
	switch {
	case bytes.HasPrefix(bytes.TrimLeft(head, " \t\r\n"), []byte("[")):
		sources, err = parseJSONArray(name, data)
	case looksLikeCSV(head):
		return parseCSV(name, data)
	default:
		sources, err = parseJSONL(name, data)
	}
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(sources))
	for _, src := range sources {
		rec := FromSource("", src)
		if rec.ID == "" || rec.Text == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func looksLikeCSV(head []byte) bool {
	first := string(head)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	lower := strings.ToLower(first)
	return strings.Contains(first, ",") && !strings.HasPrefix(strings.TrimSpace(first), "{") &&
		(strings.Contains(lower, "id") || strings.Contains(lower, "text"))
}

func parseJSONArray(name string, data []byte) ([]map[string]any, error) {
	var sources []map[string]any
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("%s: invalid JSON array: %w", name, err)
	}
	return sources, nil
}

func parseJSONL(name string, data []byte) ([]map[string]any, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var sources []map[string]any
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var src map[string]any
		if err := json.Unmarshal([]byte(line), &src); err != nil {
			preview := line
			if len(preview) > 120 {
				preview = preview[:120]
			}
			return nil, fmt.Errorf("%s:%d is not valid JSON/JSONL: %w; sample: %s", name, lineNo, err, preview)
		}
		sources = append(sources, src)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", name, err)
	}
	return sources, nil
}

func parseCSV(name string, data []byte) ([]Record, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read CSV header: %w", name, err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.TrimSpace(h)] = i
	}
	get := func(row []string, keys ...string) string {
		for _, k := range keys {
			if i, ok := columns[k]; ok && i < len(row) {
				if v := strings.TrimSpace(row[i]); v != "" {
					return v
				}
			}
		}
		return ""
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: read CSV row: %w", name, err)
		}
		rec := Record{
			ID:         get(row, "id", "ID", "编号"),
			Text:       get(row, "text", "故障现象", "描述"),
			System:     get(row, "system", "系统"),
			Part:       get(row, "part", "部件"),
			Popularity: asFloat(get(row, "popularity", "热度")),
		}
		for _, t := range strings.Split(get(row, "tags"), "|") {
			if t = strings.TrimSpace(t); t != "" {
				rec.Tags = append(rec.Tags, t)
			}
		}
		if rec.ID == "" || rec.Text == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
