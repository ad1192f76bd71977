package results

import (
	"errors"
	"math"
	"testing"
)

func TestGradeAndLabelBreakpoints(t *testing.T) {
	cases := []struct {
		score float64
		grade string
		label string
	}{
		{100, "A", "Excellent"},
		{90, "A", "Excellent"},
		{89.99, "B", "Good"},
		{80, "B", "Good"},
		{79.9, "C", "Fair"},
		{70, "C", "Fair"},
		{65, "D", "Needs Improvement"},
		{60, "D", "Needs Improvement"},
		{59.9, "F", "Needs Improvement"},
		{0, "F", "Needs Improvement"},
	}
	for _, tc := range cases {
		if got := Grade(tc.score); got != tc.grade {
			t.Fatalf("Grade(%v) = %q, want %q", tc.score, got, tc.grade)
		}
		if got := QualityLabel(tc.score); got != tc.label {
			t.Fatalf("QualityLabel(%v) = %q, want %q", tc.score, got, tc.label)
		}
	}
}

func TestClassifyCorrelation(t *testing.T) {
	if Classify(0.95, 0.8) != LevelVeryHigh || Classify(-0.91, 0.8) != LevelVeryHigh {
		t.Fatalf("expected very high above 0.9")
	}
	if Classify(0.85, 0.8) != LevelHigh || Classify(-0.81, 0.8) != LevelHigh {
		t.Fatalf("expected high above threshold")
	}
	if Classify(0.8, 0.8) != LevelNormal || Classify(math.NaN(), 0.8) != LevelNormal {
		t.Fatalf("expected normal at threshold and for NaN")
	}
	if !HighSkewness(-1.2) || HighSkewness(1) || !HighKurtosis(3.5) || HighKurtosis(-3) {
		t.Fatalf("unexpected skewness/kurtosis flags")
	}
}

func TestNormalizeMissingValuesKeepsCountAndPercentage(t *testing.T) {
	res, err := Normalize([]byte(`{"basic_validation":{"missing_values":{"total_missing":{"age":3,"name":0},"missing_percentages":{"age":12.5,"name":0}}}}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	mv := res.Basic.MissingValues
	if mv == nil || len(mv.Columns) != 1 {
		t.Fatalf("expected one missing column, got %+v", mv)
	}
	if got := mv.Columns[0]; got.Name != "age" || got.Count != 3 || got.Percentage != 12.5 {
		t.Fatalf("unexpected column: %+v", got)
	}
	if res.Advanced != nil || res.Correlation != nil || res.CrossFile != nil {
		t.Fatalf("absent sections should stay nil")
	}
}

func TestNormalizeKeepsColumnOrder(t *testing.T) {
	res, err := Normalize([]byte(`{"basic_validation":{"data_types":{"zeta":"int64","alpha":"object","mid":null}}}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cols := res.Basic.DataTypes.Columns
	if len(cols) != 3 || cols[0].Name != "zeta" || cols[1].Name != "alpha" || cols[2].Name != "mid" {
		t.Fatalf("unexpected order: %+v", cols)
	}
	if cols[2].Type != "" {
		t.Fatalf("null type should become empty, got %q", cols[2].Type)
	}
}

func TestNormalizeDuplicatesBothShapes(t *testing.T) {
	res, err := Normalize([]byte(`{"basic_validation":{"duplicates":{"id":2,"email":0,"name":1}}}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	dup := res.Basic.Duplicates
	if dup.Total != 3 || len(dup.Columns) != 2 || dup.Columns[0].Name != "id" {
		t.Fatalf("unexpected per-column duplicates: %+v", dup)
	}

	res, err = Normalize([]byte(`{"basic_validation":{"duplicates":{"total_duplicates":"2","duplicate_rows":[4,9]}}}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	dup = res.Basic.Duplicates
	if dup.Total != 2 || len(dup.Rows) != 2 || dup.Rows[1] != 9 || len(dup.Columns) != 0 {
		t.Fatalf("unexpected summary duplicates: %+v", dup)
	}
}

func TestNormalizeColumnScoresShapes(t *testing.T) {
	payload := `{"advanced_validation":{"quality_scores":{"overall_score":80,
		"column_scores":"{\"age\": 79.9, \"name\": {\"score\": 95, \"grade\": \"A\"}, \"city\": {\"score\": 61}, \"note\": \"n/a\"}"}}}`
	res, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	qs := res.Advanced.QualityScores
	if qs.OverallGrade != "B" {
		t.Fatalf("expected computed overall grade B, got %q", qs.OverallGrade)
	}
	if len(qs.Columns) != 4 {
		t.Fatalf("expected 4 column scores, got %+v", qs.Columns)
	}
	want := []ColumnScore{
		{Name: "age", Score: 79.9, Grade: "C"},
		{Name: "name", Score: 95, Grade: "A"},
		{Name: "city", Score: 61, Grade: "D"},
		{Name: "note", Score: 0, Grade: "F", Text: "n/a"},
	}
	for i, w := range want {
		if qs.Columns[i] != w {
			t.Fatalf("column %d: got %+v, want %+v", i, qs.Columns[i], w)
		}
	}
}

func TestNormalizeDistributionStatsAndText(t *testing.T) {
	payload := `{"advanced_validation":{"distribution_analysis":{
		"price":{"mean":10.5,"skewness":1.7,"normality_tests":{"shapiro_wilk":{"statistic":0.91,"p_value":0.01},
			"anderson_darling":{"statistic":1.2,"critical_values":[0.5,0.6],"significance_level":[15,10]}}},
		"label":"categorical column"}}}`
	res, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cols := res.Advanced.Distribution.Columns
	if len(cols) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(cols))
	}
	price := cols[0].Stats
	if price == nil || price.Mean == nil || *price.Mean != 10.5 || price.Median != nil {
		t.Fatalf("unexpected stats: %+v", price)
	}
	if price.Normality.ShapiroWilk.PValue != 0.01 || len(price.Normality.AndersonDarling.SignificanceLevels) != 2 {
		t.Fatalf("unexpected normality: %+v", price.Normality)
	}
	if cols[1].Stats != nil || cols[1].Text != "categorical column" {
		t.Fatalf("expected free-text distribution, got %+v", cols[1])
	}
}

func TestNormalizeCorrelationPairsAndMatrix(t *testing.T) {
	payload := `{"correlation_analysis":{"threshold":0.7,
		"correlation_matrix":{"a":{"a":1,"b":0.95},"b":{"a":0.95,"b":null}},
		"top_correlations":[["a","b",0.95]],
		"high_correlations":[{"column1":"a","column2":"b","correlation":"0.95"}]}}`
	res, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	ca := res.Correlation
	if ca.Threshold == nil || *ca.Threshold != 0.7 {
		t.Fatalf("unexpected threshold: %v", ca.Threshold)
	}
	if len(ca.TopCorrelations) != 1 || ca.TopCorrelations[0] != (Pair{"a", "b", 0.95}) {
		t.Fatalf("unexpected tuple pairs: %+v", ca.TopCorrelations)
	}
	if len(ca.HighCorrelations) != 1 || ca.HighCorrelations[0].Correlation != 0.95 {
		t.Fatalf("unexpected object pairs: %+v", ca.HighCorrelations)
	}
	if len(ca.Matrix.Columns) != 2 || ca.Matrix.Values[0][1] != 0.95 || !math.IsNaN(ca.Matrix.Values[1][1]) {
		t.Fatalf("unexpected matrix: %+v", ca.Matrix)
	}
}

func TestNormalizeTopLevelCorrelationAliases(t *testing.T) {
	res, err := Normalize([]byte(`{"correlations":{"x":{"x":1}},"correlation_matrix_path":"static/m.png","validation":{"recommendation":"ok"}}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Correlation == nil || res.Correlation.MatrixImagePath != "static/m.png" || res.Correlation.Matrix == nil {
		t.Fatalf("expected correlation from aliases, got %+v", res.Correlation)
	}
	if res.Basic == nil || res.Basic.Recommendation != "ok" {
		t.Fatalf("expected basic validation from alias, got %+v", res.Basic)
	}
}

func TestNormalizeCrossFile(t *testing.T) {
	payload := `{"similar_columns":[{"file1":"a.csv","column1":"id","file2":"b.csv","column2":"uid","similarity":0.93}],
		"cross_correlations":[{"file1":"a.csv","column1":"x","file2":"b.csv","column2":"y","correlation":-0.4}]}`
	res, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cf := res.CrossFile
	if cf == nil || len(cf.SimilarColumns) != 1 || cf.SimilarColumns[0].Value != 0.93 || cf.Correlations[0].Column2 != "y" {
		t.Fatalf("unexpected cross-file analysis: %+v", cf)
	}
}

func TestNormalizeDropsBrokenSectionOnly(t *testing.T) {
	res, err := Normalize([]byte(`{"basic_validation":[1,2],"advanced_validation":{"outliers":{"price":{"iqr_outliers":4,"z_score_outliers":2}}}}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Basic != nil {
		t.Fatalf("expected broken section to be dropped")
	}
	out := res.Advanced.Outliers
	if len(out.Columns) != 1 || out.Columns[0].Count != 4 {
		t.Fatalf("unexpected outliers: %+v", out)
	}
}

func TestNormalizeRejectsNonObject(t *testing.T) {
	for _, in := range []string{`[1,2]`, `null`, ``, `"plain"`} {
		if _, err := Normalize([]byte(in)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Normalize(%q): expected ErrMalformed, got %v", in, err)
		}
	}
}

func TestNormalizePreviewRecordsAndArrays(t *testing.T) {
	p, err := NormalizePreview(nil, []byte(`[{"id":1,"name":"a"},{"id":2,"name":null}]`))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(p.Columns) != 2 || p.Rows[1][0] != "2" || p.Rows[1][1] != "" {
		t.Fatalf("unexpected record preview: %+v", p)
	}

	p, err = NormalizePreview([]string{"id", "name"}, []byte(`[[1,"a"],[2,"b"]]`))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(p.Rows) != 2 || p.Rows[0][1] != "a" {
		t.Fatalf("unexpected array preview: %+v", p)
	}
}
