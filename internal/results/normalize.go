package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
)

// ErrMalformed is returned when a payload is not a JSON object.
var ErrMalformed = errors.New("malformed results payload")

// Normalize decodes a results payload into typed sections. Sections that
// cannot be decoded are dropped with a warning so a partial payload still
// renders.
func Normalize(raw json.RawMessage) (*Results, error) {
	if isNull(raw) {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	raw = unquoteJSON(raw)
	members, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err) //nolint:errorlint
	}
	res := &Results{Raw: append(json.RawMessage(nil), raw...)}

	basicRaw, ok := field(members, "basic_validation")
	if !ok {
		basicRaw, ok = field(members, "validation")
	}
	if ok {
		res.Basic = section("basic_validation", basicRaw, normalizeBasic)
	}
	if advRaw, ok := field(members, "advanced_validation"); ok {
		res.Advanced = section("advanced_validation", advRaw, normalizeAdvanced)
	}
	if corrRaw, ok := field(members, "correlation_analysis"); ok {
		res.Correlation = section("correlation_analysis", corrRaw, normalizeCorrelation)
	} else if hasAny(members, "correlations", "correlation_matrix", "top_correlations", "high_correlations", "correlation_matrix_path") {
		res.Correlation = section("correlation_analysis", raw, normalizeCorrelation)
	}
	if hasAny(members, "similar_columns", "cross_correlations", "cross_correlation_matrix_path") {
		res.CrossFile = section("cross_file", raw, normalizeCrossFile)
	}
	return res, nil
}

func hasAny(members []member, keys ...string) bool {
	for _, k := range keys {
		if _, ok := field(members, k); ok {
			return true
		}
	}
	return false
}

func section[T any](name string, raw json.RawMessage, decode func([]member) (*T, error)) *T {
	members, err := decodeObject(unquoteJSON(raw))
	if err == nil {
		var out *T
		out, err = decode(members)
		if err == nil {
			return out
		}
	}
	log.Warn().Str("section", name).Err(err).Msg("dropping undecodable results section")
	return nil
}

func normalizeBasic(members []member) (*BasicValidation, error) {
	basic := &BasicValidation{Recommendation: stringField(members, "recommendation")}
	if raw, ok := field(members, "missing_values"); ok {
		mv, err := normalizeMissing(raw)
		if err != nil {
			return nil, fmt.Errorf("missing_values: %w", err)
		}
		basic.MissingValues = mv
	}
	if raw, ok := field(members, "data_types"); ok {
		types, err := decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("data_types: %w", err)
		}
		dt := &DataTypes{Columns: make([]ColumnType, 0, len(types))}
		for _, m := range types {
			dt.Columns = append(dt.Columns, ColumnType{Name: m.Key, Type: text(m.Value)})
		}
		basic.DataTypes = dt
	}
	if raw, ok := field(members, "duplicates"); ok {
		dup, err := normalizeDuplicates(raw)
		if err != nil {
			return nil, fmt.Errorf("duplicates: %w", err)
		}
		basic.Duplicates = dup
	}
	if raw, ok := field(members, "negative_values"); ok {
		neg, err := countTable(raw)
		if err != nil {
			return nil, fmt.Errorf("negative_values: %w", err)
		}
		basic.NegativeValues = neg
	}
	return basic, nil
}

func normalizeMissing(raw json.RawMessage) (*MissingValues, error) {
	members, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	mv := &MissingValues{}
	totals, ok := field(members, "total_missing")
	if !ok {
		return mv, nil
	}
	counts, err := decodeObject(totals)
	if err != nil {
		return nil, err
	}
	var pcts []member
	if pctRaw, ok := field(members, "missing_percentages"); ok {
		if pcts, err = decodeObject(pctRaw); err != nil {
			return nil, err
		}
	}
	for _, m := range counts {
		count, ok := number(m.Value)
		if !ok || !(count > 0) {
			continue
		}
		col := MissingColumn{Name: m.Key, Count: int(count)}
		if pct := optionalNumber(pcts, m.Key); pct != nil {
			col.Percentage = *pct
		}
		mv.Columns = append(mv.Columns, col)
	}
	return mv, nil
}

// normalizeDuplicates accepts {col: count} or
// {total_duplicates: n, duplicate_rows: [...]}.
func normalizeDuplicates(raw json.RawMessage) (*Duplicates, error) {
	members, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	totalRaw, summary := field(members, "total_duplicates")
	if !summary {
		table, err := countTable(raw)
		if err != nil {
			return nil, err
		}
		dup := &Duplicates{Columns: table.Columns}
		for _, c := range table.Columns {
			dup.Total += c.Count
		}
		return dup, nil
	}
	total, ok := number(totalRaw)
	if !ok {
		return nil, fmt.Errorf("total_duplicates: not a number")
	}
	dup := &Duplicates{Total: int(total)}
	if rowsRaw, ok := field(members, "duplicate_rows"); ok {
		var rows []json.RawMessage
		if err := json.Unmarshal(rowsRaw, &rows); err != nil {
			return nil, fmt.Errorf("duplicate_rows: %w", err)
		}
		for _, r := range rows {
			if n, ok := number(r); ok {
				dup.Rows = append(dup.Rows, int(n))
			}
		}
	}
	return dup, nil
}

func countTable(raw json.RawMessage) (*CountTable, error) {
	members, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	table := &CountTable{}
	for _, m := range members {
		n, ok := number(m.Value)
		if !ok || !(n > 0) {
			continue
		}
		table.Columns = append(table.Columns, ColumnCount{Name: m.Key, Count: int(n)})
	}
	return table, nil
}

func normalizeAdvanced(members []member) (*AdvancedValidation, error) {
	adv := &AdvancedValidation{}
	if raw, ok := field(members, "quality_scores"); ok {
		qs, err := normalizeQuality(raw)
		if err != nil {
			return nil, fmt.Errorf("quality_scores: %w", err)
		}
		adv.QualityScores = qs
	}
	if raw, ok := field(members, "outliers"); ok {
		out, err := normalizeOutliers(raw)
		if err != nil {
			return nil, fmt.Errorf("outliers: %w", err)
		}
		adv.Outliers = out
	}
	if raw, ok := field(members, "distribution_analysis"); ok {
		dist, err := normalizeDistribution(raw)
		if err != nil {
			return nil, fmt.Errorf("distribution_analysis: %w", err)
		}
		adv.Distribution = dist
	}
	if raw, ok := field(members, "multicollinearity"); ok {
		mc, err := decodeObject(unquoteJSON(raw))
		if err != nil {
			return nil, fmt.Errorf("multicollinearity: %w", err)
		}
		if adv.Multicollinearity, err = normalizeMulticollinearity(mc); err != nil {
			return nil, fmt.Errorf("multicollinearity: %w", err)
		}
	}
	return adv, nil
}

// normalizeOutliers accepts plain counts or per-column objects carrying
// iqr_outliers / z_score_outliers; the larger of the two is kept.
func normalizeOutliers(raw json.RawMessage) (*CountTable, error) {
	members, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	table := &CountTable{}
	for _, m := range members {
		var n float64
		if firstChar(m.Value) == '{' {
			inner, err := decodeObject(m.Value)
			if err != nil {
				return nil, err
			}
			for _, key := range []string{"count", "iqr_outliers", "z_score_outliers"} {
				if v := optionalNumber(inner, key); v != nil && *v > n {
					n = *v
				}
			}
		} else {
			var ok bool
			if n, ok = number(m.Value); !ok {
				continue
			}
		}
		if n > 0 {
			table.Columns = append(table.Columns, ColumnCount{Name: m.Key, Count: int(n)})
		}
	}
	return table, nil
}

func normalizeQuality(raw json.RawMessage) (*QualityScores, error) {
	members, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	qs := &QualityScores{}
	if v := optionalNumber(members, "overall_score"); v != nil {
		qs.OverallScore = *v
	}
	qs.OverallGrade = stringField(members, "overall_grade")
	if qs.OverallGrade == "" {
		qs.OverallGrade = Grade(qs.OverallScore)
	}
	colRaw, ok := field(members, "column_scores")
	if !ok {
		return qs, nil
	}
	cols, err := decodeObject(unquoteJSON(colRaw))
	if err != nil {
		log.Warn().Err(err).Msg("column_scores is not an object")
		return qs, nil
	}
	for _, m := range cols {
		qs.Columns = append(qs.Columns, columnScore(m))
	}
	return qs, nil
}

func columnScore(m member) ColumnScore {
	cs := ColumnScore{Name: m.Key}
	scoreRaw := m.Value
	if firstChar(m.Value) == '{' {
		inner, err := decodeObject(m.Value)
		if err == nil {
			scoreRaw, _ = field(inner, "score")
			cs.Grade = stringField(inner, "grade")
		}
	}
	if score, ok := number(scoreRaw); ok && !math.IsNaN(score) {
		cs.Score = score
	} else {
		cs.Text = text(scoreRaw)
	}
	if cs.Grade == "" {
		cs.Grade = Grade(cs.Score)
	}
	return cs
}

func normalizeDistribution(raw json.RawMessage) (*Distribution, error) {
	members, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	dist := &Distribution{}
	for _, m := range members {
		col := ColumnDistribution{Name: m.Key}
		if firstChar(m.Value) != '{' {
			col.Text = text(m.Value)
			dist.Columns = append(dist.Columns, col)
			continue
		}
		stats, err := decodeObject(m.Value)
		if err != nil {
			return nil, err
		}
		col.Stats = &DistributionStats{
			Mean:     optionalNumber(stats, "mean"),
			Median:   optionalNumber(stats, "median"),
			Std:      optionalNumber(stats, "std"),
			Skewness: optionalNumber(stats, "skewness"),
			Kurtosis: optionalNumber(stats, "kurtosis"),
		}
		if nt, ok := field(stats, "normality_tests"); ok {
			col.Stats.Normality = normalizeNormality(nt)
		}
		dist.Columns = append(dist.Columns, col)
	}
	return dist, nil
}

func normalizeNormality(raw json.RawMessage) *NormalityTests {
	if firstChar(raw) != '{' {
		return &NormalityTests{Text: text(raw)}
	}
	members, err := decodeObject(raw)
	if err != nil {
		return &NormalityTests{Text: text(raw)}
	}
	nt := &NormalityTests{}
	if swRaw, ok := field(members, "shapiro_wilk"); ok {
		if sw, err := decodeObject(swRaw); err == nil {
			nt.ShapiroWilk = &ShapiroWilk{}
			if v := optionalNumber(sw, "statistic"); v != nil {
				nt.ShapiroWilk.Statistic = *v
			}
			if v := optionalNumber(sw, "p_value"); v != nil {
				nt.ShapiroWilk.PValue = *v
			}
		}
	}
	if adRaw, ok := field(members, "anderson_darling"); ok {
		if ad, err := decodeObject(adRaw); err == nil {
			nt.AndersonDarling = &AndersonDarling{
				CriticalValues:     numbers(ad, "critical_values"),
				SignificanceLevels: numbers(ad, "significance_level"),
			}
			if v := optionalNumber(ad, "statistic"); v != nil {
				nt.AndersonDarling.Statistic = *v
			}
		}
	}
	return nt
}

func numbers(members []member, key string) []float64 {
	raw, ok := field(members, key)
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]float64, 0, len(items))
	for _, it := range items {
		if f, ok := number(it); ok {
			out = append(out, f)
		}
	}
	return out
}

func normalizeMulticollinearity(members []member) (*Multicollinearity, error) {
	mc := &Multicollinearity{
		Threshold:      optionalNumber(members, "threshold"),
		Recommendation: stringField(members, "recommendation"),
	}
	var err error
	if raw, ok := field(members, "correlation_matrix"); ok {
		if mc.Matrix, err = normalizeMatrix(raw); err != nil {
			return nil, fmt.Errorf("correlation_matrix: %w", err)
		}
	}
	if raw, ok := field(members, "high_correlations"); ok {
		if mc.HighCorrelations, err = normalizePairs(raw); err != nil {
			return nil, fmt.Errorf("high_correlations: %w", err)
		}
	}
	return mc, nil
}

func normalizeCorrelation(members []member) (*CorrelationAnalysis, error) {
	ca := &CorrelationAnalysis{
		Threshold:       optionalNumber(members, "threshold"),
		MatrixImagePath: stringField(members, "correlation_matrix_path"),
	}
	var err error
	matrixRaw, ok := field(members, "correlation_matrix")
	if !ok {
		matrixRaw, ok = field(members, "correlations")
	}
	if ok {
		if ca.Matrix, err = normalizeMatrix(matrixRaw); err != nil {
			return nil, fmt.Errorf("correlation_matrix: %w", err)
		}
	}
	if raw, ok := field(members, "top_correlations"); ok {
		if ca.TopCorrelations, err = normalizePairs(raw); err != nil {
			return nil, fmt.Errorf("top_correlations: %w", err)
		}
	}
	if raw, ok := field(members, "high_correlations"); ok {
		if ca.HighCorrelations, err = normalizePairs(raw); err != nil {
			return nil, fmt.Errorf("high_correlations: %w", err)
		}
	}
	return ca, nil
}

// normalizeMatrix reads {row: {col: value}}. Columns follow the row order,
// with any column only seen inside rows appended in sorted order.
func normalizeMatrix(raw json.RawMessage) (*Matrix, error) {
	rows, err := decodeObject(unquoteJSON(raw))
	if err != nil {
		return nil, err
	}
	m := &Matrix{}
	cells := make([]map[string]float64, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		m.Columns = append(m.Columns, r.Key)
		seen[r.Key] = true
	}
	var extra []string
	for i, r := range rows {
		cols, err := decodeObject(r.Value)
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", r.Key, err)
		}
		cells[i] = make(map[string]float64, len(cols))
		for _, c := range cols {
			v, ok := number(c.Value)
			if !ok || isNull(c.Value) {
				v = math.NaN()
			}
			cells[i][c.Key] = v
			if !seen[c.Key] {
				seen[c.Key] = true
				extra = append(extra, c.Key)
			}
		}
	}
	sort.Strings(extra)
	m.Columns = append(m.Columns, extra...)
	m.Values = make([][]float64, len(rows))
	for i := range rows {
		m.Values[i] = make([]float64, len(m.Columns))
		for j, col := range m.Columns {
			v, ok := cells[i][col]
			if !ok {
				v = math.NaN()
			}
			m.Values[i][j] = v
		}
	}
	return m, nil
}

// normalizePairs accepts objects {column1, column2, correlation} or tuples
// [column1, column2, correlation].
func normalizePairs(raw json.RawMessage) ([]Pair, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(unquoteJSON(raw), &items); err != nil {
		return nil, err //nolint:wrapcheck
	}
	pairs := make([]Pair, 0, len(items))
	for i, it := range items {
		switch firstChar(it) {
		case '{':
			members, err := decodeObject(it)
			if err != nil {
				return nil, fmt.Errorf("pair %d: %w", i, err)
			}
			p := Pair{Column1: stringField(members, "column1"), Column2: stringField(members, "column2")}
			if v := optionalNumber(members, "correlation"); v != nil {
				p.Correlation = *v
			}
			pairs = append(pairs, p)
		case '[':
			var tuple []json.RawMessage
			if err := json.Unmarshal(it, &tuple); err != nil {
				return nil, fmt.Errorf("pair %d: %w", i, err)
			}
			if len(tuple) < 3 {
				return nil, fmt.Errorf("pair %d: want 3 elements, got %d", i, len(tuple))
			}
			v, _ := number(tuple[2])
			pairs = append(pairs, Pair{Column1: text(tuple[0]), Column2: text(tuple[1]), Correlation: v})
		default:
			return nil, fmt.Errorf("pair %d: unexpected %s", i, string(it))
		}
	}
	return pairs, nil
}

func normalizeCrossFile(members []member) (*CrossFileAnalysis, error) {
	cf := &CrossFileAnalysis{MatrixImagePath: stringField(members, "cross_correlation_matrix_path")}
	var err error
	if raw, ok := field(members, "similar_columns"); ok {
		if cf.SimilarColumns, err = normalizeLinks(raw, "similarity"); err != nil {
			return nil, fmt.Errorf("similar_columns: %w", err)
		}
	}
	if raw, ok := field(members, "cross_correlations"); ok {
		if cf.Correlations, err = normalizeLinks(raw, "correlation"); err != nil {
			return nil, fmt.Errorf("cross_correlations: %w", err)
		}
	}
	return cf, nil
}

func normalizeLinks(raw json.RawMessage, valueKey string) ([]ColumnLink, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err //nolint:wrapcheck
	}
	links := make([]ColumnLink, 0, len(items))
	for i, it := range items {
		members, err := decodeObject(it)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		link := ColumnLink{
			File1:   stringField(members, "file1"),
			Column1: stringField(members, "column1"),
			File2:   stringField(members, "file2"),
			Column2: stringField(members, "column2"),
		}
		if v := optionalNumber(members, valueKey); v != nil {
			link.Value = *v
		}
		links = append(links, link)
	}
	return links, nil
}
