package results

import (
	"encoding/json"
	"fmt"
)

// NormalizePreview builds a table from the preview endpoints. Rows may be
// arrays aligned with columns or records keyed by column name; when columns
// is empty they are taken from the first record.
func NormalizePreview(columns []string, rows json.RawMessage) (*Preview, error) {
	p := &Preview{Columns: append([]string(nil), columns...)}
	if isNull(rows) {
		return p, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(unquoteJSON(rows), &items); err != nil {
		return nil, fmt.Errorf("%w: preview rows: %v", ErrMalformed, err) //nolint:errorlint
	}
	for i, it := range items {
		switch firstChar(it) {
		case '[':
			var cells []json.RawMessage
			if err := json.Unmarshal(it, &cells); err != nil {
				return nil, fmt.Errorf("%w: preview row %d: %v", ErrMalformed, i, err) //nolint:errorlint
			}
			row := make([]string, len(cells))
			for j, c := range cells {
				row[j] = text(c)
			}
			p.Rows = append(p.Rows, row)
		case '{':
			record, err := decodeObject(it)
			if err != nil {
				return nil, fmt.Errorf("%w: preview row %d: %v", ErrMalformed, i, err) //nolint:errorlint
			}
			if len(p.Columns) == 0 {
				for _, m := range record {
					p.Columns = append(p.Columns, m.Key)
				}
			}
			row := make([]string, len(p.Columns))
			for j, col := range p.Columns {
				row[j] = stringField(record, col)
			}
			p.Rows = append(p.Rows, row)
		default:
			return nil, fmt.Errorf("%w: preview row %d is not a row", ErrMalformed, i)
		}
	}
	return p, nil
}
