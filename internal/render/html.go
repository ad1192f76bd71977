package render

import (
	"embed"
	"html/template"
	"io"
	"strconv"

	"ingestdesk/internal/results"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var templates = template.Must(template.New("render").Funcs(template.FuncMap{
	"num":        num,
	"label":      QualityLabel,
	"gradeClass": gradeClass,
	"scoreClass": scoreClass,
	"corrClass":  corrClass,
	"corrLevel":  func(v, threshold float64) string { return levelName(results.Classify(v, threshold)) },
	"threshold":  func(o Options, p *float64) float64 { return o.threshold(p) },
	"highSkew":   func(v *float64) bool { return v != nil && results.HighSkewness(*v) },
	"highKurt":   func(v *float64) bool { return v != nil && results.HighKurtosis(*v) },
	"normal":     isNormal,
	"sigLevel":   sigLevel,
	"percent":    func(v float64) string { return fixed(v*100, 1) },
	"matrixView": func(m *results.Matrix, thr float64) matrixData { return matrixData{Matrix: m, Threshold: thr} },
	"pairTable": func(title string, p []results.Pair, thr float64) pairsData {
		return pairsData{Title: title, Pairs: p, Threshold: thr}
	},
}).ParseFS(templatesFS, "templates/*.tmpl"))

type htmlData struct {
	R    *results.Results
	Opts Options
}

type matrixData struct {
	Matrix    *results.Matrix
	Threshold float64
}

type pairsData struct {
	Title     string
	Pairs     []results.Pair
	Threshold float64
}

// HTML writes the results fragment. Absent sections produce no markup.
func HTML(w io.Writer, res *results.Results, opts Options) error {
	if res == nil {
		return nil
	}
	return templates.ExecuteTemplate(w, "results", htmlData{R: res, Opts: opts}) //nolint:wrapcheck
}

// PreviewHTML writes a preview table fragment.
func PreviewHTML(w io.Writer, p *results.Preview) error {
	if p == nil {
		return nil
	}
	return templates.ExecuteTemplate(w, "preview", p) //nolint:wrapcheck
}

// ChatHTML writes a chat transcript fragment.
func ChatHTML(w io.Writer, entries []ChatEntry) error {
	return templates.ExecuteTemplate(w, "chat", entries) //nolint:wrapcheck
}

func num(v any, digits int) string {
	switch n := v.(type) {
	case float64:
		return fixed(n, digits)
	case *float64:
		if n == nil {
			return ""
		}
		return fixed(*n, digits)
	case int:
		return strconv.Itoa(n)
	default:
		return ""
	}
}

func scoreClass(score float64) string {
	switch {
	case score >= 90:
		return "good"
	case score >= 80:
		return "ok"
	case score >= 70:
		return "fair"
	default:
		return "bad"
	}
}

func gradeClass(grade string) string {
	switch grade {
	case "A":
		return "good"
	case "B":
		return "ok"
	case "C":
		return "fair"
	case "D":
		return "poor"
	case "F":
		return "bad"
	default:
		return "muted"
	}
}

func corrClass(v, threshold float64) string {
	switch results.Classify(v, threshold) {
	case results.LevelVeryHigh:
		return "bad"
	case results.LevelHigh:
		return "fair"
	default:
		return ""
	}
}

func sigLevel(ad *results.AndersonDarling, i int) string {
	if i >= len(ad.SignificanceLevels) {
		return ""
	}
	return strconv.FormatFloat(ad.SignificanceLevels[i], 'f', -1, 64)
}
