package results

import "encoding/json"

// Results is the normalized form of a task results payload. A nil section
// means the payload did not carry it.
type Results struct {
	Basic       *BasicValidation
	Advanced    *AdvancedValidation
	Correlation *CorrelationAnalysis
	CrossFile   *CrossFileAnalysis
	Raw         json.RawMessage
}

// Empty reports whether no known section was present.
func (r *Results) Empty() bool {
	return r == nil || (r.Basic == nil && r.Advanced == nil && r.Correlation == nil && r.CrossFile == nil)
}

type BasicValidation struct {
	MissingValues  *MissingValues
	DataTypes      *DataTypes
	Duplicates     *Duplicates
	NegativeValues *CountTable
	Recommendation string
}

type MissingColumn struct {
	Name       string
	Count      int
	Percentage float64
}

// MissingValues lists columns with at least one missing value.
type MissingValues struct {
	Columns []MissingColumn
}

type ColumnType struct {
	Name string
	Type string
}

type DataTypes struct {
	Columns []ColumnType
}

type ColumnCount struct {
	Name  string
	Count int
}

// CountTable holds per-column counts greater than zero.
type CountTable struct {
	Columns []ColumnCount
}

// Duplicates carries either per-column counts or the row-level summary.
type Duplicates struct {
	Columns []ColumnCount
	Total   int
	Rows    []int
}

type AdvancedValidation struct {
	QualityScores     *QualityScores
	Outliers          *CountTable
	Distribution      *Distribution
	Multicollinearity *Multicollinearity
}

type ColumnScore struct {
	Name  string
	Score float64
	Grade string
	// Text keeps a score the server sent in a non-numeric form.
	Text string
}

type QualityScores struct {
	OverallScore float64
	OverallGrade string
	Columns      []ColumnScore
}

type ShapiroWilk struct {
	Statistic float64
	PValue    float64
}

type AndersonDarling struct {
	Statistic          float64
	CriticalValues     []float64
	SignificanceLevels []float64
}

type NormalityTests struct {
	ShapiroWilk     *ShapiroWilk
	AndersonDarling *AndersonDarling
	Text            string
}

// DistributionStats has nil fields for statistics the server left out.
type DistributionStats struct {
	Mean      *float64
	Median    *float64
	Std       *float64
	Skewness  *float64
	Kurtosis  *float64
	Normality *NormalityTests
}

type ColumnDistribution struct {
	Name  string
	Stats *DistributionStats
	Text  string
}

type Distribution struct {
	Columns []ColumnDistribution
}

type Pair struct {
	Column1     string
	Column2     string
	Correlation float64
}

// Matrix is a square correlation matrix; missing cells are NaN.
type Matrix struct {
	Columns []string
	Values  [][]float64
}

type Multicollinearity struct {
	Matrix           *Matrix
	HighCorrelations []Pair
	Threshold        *float64
	Recommendation   string
}

type CorrelationAnalysis struct {
	Threshold        *float64
	TopCorrelations  []Pair
	HighCorrelations []Pair
	Matrix           *Matrix
	MatrixImagePath  string
}

// ColumnLink relates a column of one file to a column of another.
type ColumnLink struct {
	File1   string
	Column1 string
	File2   string
	Column2 string
	Value   float64
}

// CrossFileAnalysis is produced by multi-file analysis tasks.
type CrossFileAnalysis struct {
	SimilarColumns  []ColumnLink
	Correlations    []ColumnLink
	MatrixImagePath string
}

// Preview is a table of the first rows of an uploaded file.
type Preview struct {
	Columns []string
	Rows    [][]string
}
