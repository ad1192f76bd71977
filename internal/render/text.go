package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"ingestdesk/internal/results"
)

type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) line(indent int, format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, strings.Repeat("  ", indent)+format+"\n", args...)
}

// Text writes a plain-text report of res. Absent sections are skipped.
func Text(w io.Writer, res *results.Results, opts Options) error {
	t := &textWriter{w: w}
	if res == nil {
		return nil
	}
	if res.Basic != nil {
		textBasic(t, res.Basic)
	}
	if res.Advanced != nil {
		textAdvanced(t, res.Advanced, opts)
	}
	if res.Correlation != nil {
		textCorrelation(t, res.Correlation, opts)
	}
	if res.CrossFile != nil {
		textCrossFile(t, res.CrossFile)
	}
	return t.err
}

func textBasic(t *textWriter, b *results.BasicValidation) {
	t.line(0, "Basic Validation")
	if mv := b.MissingValues; mv != nil {
		t.line(1, "Missing Values")
		if len(mv.Columns) == 0 {
			t.line(2, "No missing values found")
		}
		for _, c := range mv.Columns {
			t.line(2, "%s: %d (%s%%)", c.Name, c.Count, fixed(c.Percentage, 2))
		}
	}
	if dt := b.DataTypes; dt != nil {
		t.line(1, "Data Types")
		if len(dt.Columns) == 0 {
			t.line(2, "No data types found")
		}
		for _, c := range dt.Columns {
			t.line(2, "%s: %s", c.Name, c.Type)
		}
	}
	if d := b.Duplicates; d != nil {
		t.line(1, "Duplicate Records")
		switch {
		case len(d.Columns) > 0:
			for _, c := range d.Columns {
				t.line(2, "%s: %d", c.Name, c.Count)
			}
		case d.Total > 0:
			t.line(2, "Total duplicates: %d%s", d.Total, rowsSuffix(d.Rows))
		default:
			t.line(2, "No duplicates found")
		}
	}
	if nv := b.NegativeValues; nv != nil {
		t.line(1, "Negative Values")
		textCounts(t, nv, "No negative values found")
	}
	if b.Recommendation != "" {
		t.line(1, "Recommendation: %s", b.Recommendation)
	}
}

func rowsSuffix(rows []int) string {
	if len(rows) == 0 {
		return ""
	}
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = strconv.Itoa(r)
	}
	return " (rows " + strings.Join(parts, ", ") + ")"
}

func textCounts(t *textWriter, table *results.CountTable, empty string) {
	if len(table.Columns) == 0 {
		t.line(2, "%s", empty)
	}
	for _, c := range table.Columns {
		t.line(2, "%s: %d", c.Name, c.Count)
	}
}

func textAdvanced(t *textWriter, a *results.AdvancedValidation, opts Options) {
	t.line(0, "Advanced Validation")
	if qs := a.QualityScores; qs != nil {
		t.line(1, "Data Quality Scores")
		t.line(2, "Overall: %s (%s, %s)", fixed(qs.OverallScore, 1), qs.OverallGrade, QualityLabel(qs.OverallScore))
		for _, c := range qs.Columns {
			score := fixed(c.Score, 1)
			if c.Text != "" {
				score = c.Text
			}
			t.line(2, "%s: %s %s %s", c.Name, score, c.Grade, QualityLabel(c.Score))
		}
	}
	if a.Outliers != nil {
		t.line(1, "Outliers Detection")
		textCounts(t, a.Outliers, "No outliers found")
	}
	if d := a.Distribution; d != nil {
		t.line(1, "Distribution Analysis")
		if len(d.Columns) == 0 {
			t.line(2, "No distribution analysis found")
		}
		for _, c := range d.Columns {
			textDistribution(t, c)
		}
	}
	if mc := a.Multicollinearity; mc != nil {
		threshold := opts.threshold(mc.Threshold)
		t.line(0, "Multicollinearity")
		t.line(1, "Correlation Threshold: %s", strconv.FormatFloat(threshold, 'f', -1, 64))
		if mc.Matrix != nil {
			textMatrix(t, mc.Matrix)
		}
		textPairs(t, "High Correlations", mc.HighCorrelations, threshold)
		if mc.Recommendation != "" {
			t.line(1, "Recommendation: %s", mc.Recommendation)
		}
	}
}

func textDistribution(t *textWriter, c results.ColumnDistribution) {
	if c.Stats == nil {
		t.line(2, "%s: %s", c.Name, c.Text)
		return
	}
	s := c.Stats
	t.line(2, "%s", c.Name)
	if s.Mean != nil {
		t.line(3, "Mean: %s", fixed(*s.Mean, 2))
	}
	if s.Median != nil {
		t.line(3, "Median: %s", fixed(*s.Median, 2))
	}
	if s.Std != nil {
		t.line(3, "Standard Deviation: %s", fixed(*s.Std, 2))
	}
	if s.Skewness != nil {
		note := ""
		if results.HighSkewness(*s.Skewness) {
			note = " (High skewness detected)"
		}
		t.line(3, "Skewness: %s%s", fixed(*s.Skewness, 2), note)
	}
	if s.Kurtosis != nil {
		note := ""
		if results.HighKurtosis(*s.Kurtosis) {
			note = " (Unusual distribution)"
		}
		t.line(3, "Kurtosis: %s%s", fixed(*s.Kurtosis, 2), note)
	}
	if n := s.Normality; n != nil {
		if n.Text != "" {
			t.line(3, "Normality Tests: %s", n.Text)
			return
		}
		t.line(3, "Normality Tests:")
		if sw := n.ShapiroWilk; sw != nil {
			normal := "No"
			if isNormal(sw) {
				normal = "Yes"
			}
			t.line(4, "Shapiro-Wilk: statistic %s, p-value %s, normal distribution: %s",
				fixed(sw.Statistic, 3), fixed(sw.PValue, 3), normal)
		}
		if ad := n.AndersonDarling; ad != nil {
			t.line(4, "Anderson-Darling: statistic %s", fixed(ad.Statistic, 3))
			for i, cv := range ad.CriticalValues {
				if i >= len(ad.SignificanceLevels) {
					break
				}
				note := ""
				if ad.Statistic > cv {
					note = " (exceeded)"
				}
				t.line(5, "%s%%: %s%s", strconv.FormatFloat(ad.SignificanceLevels[i], 'f', -1, 64), fixed(cv, 3), note)
			}
		}
	}
}

func textMatrix(t *textWriter, m *results.Matrix) {
	t.line(1, "Correlation Matrix")
	t.line(2, "\t%s", strings.Join(m.Columns, "\t"))
	for i, row := range m.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fixed(v, 3)
		}
		t.line(2, "%s\t%s", m.Columns[i], strings.Join(cells, "\t"))
	}
}

func textPairs(t *textWriter, title string, pairs []results.Pair, threshold float64) {
	if len(pairs) == 0 {
		return
	}
	t.line(1, "%s (%d pairs)", title, len(pairs))
	for _, p := range pairs {
		note := ""
		if name := levelName(results.Classify(p.Correlation, threshold)); name != "" {
			note = " (" + name + ")"
		}
		t.line(2, "%s ~ %s: %s%s", p.Column1, p.Column2, fixed(p.Correlation, 3), note)
	}
}

func textCorrelation(t *textWriter, c *results.CorrelationAnalysis, opts Options) {
	threshold := opts.threshold(c.Threshold)
	t.line(0, "Correlation Analysis")
	t.line(1, "Threshold: %s", strconv.FormatFloat(threshold, 'f', -1, 64))
	textPairs(t, "Top Correlations", c.TopCorrelations, threshold)
	textPairs(t, "High Correlations", c.HighCorrelations, threshold)
	if c.Matrix != nil {
		textMatrix(t, c.Matrix)
	}
	if c.MatrixImagePath != "" {
		t.line(1, "Heat map: %s", c.MatrixImagePath)
	}
}

func textCrossFile(t *textWriter, c *results.CrossFileAnalysis) {
	t.line(0, "Cross-file Analysis")
	if len(c.SimilarColumns) > 0 {
		t.line(1, "Similar Columns")
		for _, l := range c.SimilarColumns {
			t.line(2, "%s:%s <-> %s:%s (similarity %s%%)", l.File1, l.Column1, l.File2, l.Column2, fixed(l.Value*100, 1))
		}
	}
	if len(c.Correlations) > 0 {
		t.line(1, "Cross-file Correlations")
		for _, l := range c.Correlations {
			t.line(2, "%s:%s ~ %s:%s: %s", l.File1, l.Column1, l.File2, l.Column2, fixed(l.Value, 3))
		}
	}
	if c.MatrixImagePath != "" {
		t.line(1, "Heat map: %s", c.MatrixImagePath)
	}
}

// PreviewText writes a tab-separated preview table.
func PreviewText(w io.Writer, p *results.Preview) error {
	t := &textWriter{w: w}
	if p == nil {
		return nil
	}
	t.line(0, "%s", strings.Join(p.Columns, "\t"))
	for _, row := range p.Rows {
		t.line(0, "%s", strings.Join(row, "\t"))
	}
	return t.err
}

// ChatText writes a chat transcript, one message per line.
func ChatText(w io.Writer, entries []ChatEntry) error {
	t := &textWriter{w: w}
	for _, e := range entries {
		t.line(0, "%s: %s", e.Role, e.Text)
	}
	return t.err
}
