package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/sensiblebit/keyshare/internal/certstore"
	"github.com/sensiblebit/keyshare/internal/coordinator"
	"github.com/sensiblebit/keyshare/internal/importer"
)

// Palette colours report text. The zero value is unusable; use NewPalette
// or PlainPalette.
type Palette struct {
	ok   func(a ...any) string
	warn func(a ...any) string
	bad  func(a ...any) string
	dim  func(a ...any) string
}

// NewPalette returns a coloured palette when w is a terminal and colour has
// not been disabled (NO_COLOR), and a plain one otherwise.
func NewPalette(w io.Writer) Palette {
	f, ok := w.(*os.File)
	if !ok || color.NoColor || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return PlainPalette()
	}
	colored := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		c.EnableColor()
		return c.SprintFunc()
	}
	return Palette{
		ok:   colored(color.FgGreen, color.Bold),
		warn: colored(color.FgYellow),
		bad:  colored(color.FgRed),
		dim:  colored(color.FgHiBlack),
	}
}

// PlainPalette returns a palette that adds no escape sequences.
func PlainPalette() Palette {
	plain := func(a ...any) string { return fmt.Sprint(a...) }
	return Palette{ok: plain, warn: plain, bad: plain, dim: plain}
}

func (p Palette) kind(k importer.Kind) string {
	label := fmt.Sprintf("%-9s", k)
	switch k {
	case importer.Imported:
		return p.ok(label)
	case importer.DuplicateSkipped:
		return p.warn(label)
	default:
		return p.bad(label)
	}
}

type outcomeJSON struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason,omitempty"`
	Added      int    `json:"added"`
	Duplicates int    `json:"duplicates"`
}

type importJSON struct {
	RunID      string        `json:"run_id"`
	Locator    string        `json:"locator"`
	Name       string        `json:"name"`
	State      string        `json:"state"`
	Stage      string        `json:"failed_stage,omitempty"`
	Reason     string        `json:"failure_reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	Imported   int           `json:"imported"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	Truncated  bool          `json:"truncated,omitempty"`
	Outcomes   []outcomeJSON `json:"outcomes"`
}

// FormatImportResult renders the result of one import run as "text" or
// "json".
func FormatImportResult(res coordinator.Result, format string, p Palette) (string, error) {
	switch format {
	case "text":
		return formatImportText(res, p), nil
	case "json":
		imported, duplicates, failed := res.Counts()
		out := importJSON{
			RunID:      res.RunID,
			Locator:    res.Locator,
			Name:       res.Name,
			State:      res.State.String(),
			Imported:   imported,
			Duplicates: duplicates,
			Failed:     failed,
			Truncated:  res.Truncated,
			Outcomes:   make([]outcomeJSON, 0, len(res.Outcomes)),
		}
		var se *coordinator.StageError
		if errors.As(res.Err, &se) {
			out.Stage = se.Stage.String()
			out.Reason = se.Reason.Error()
		}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		for _, o := range res.Outcomes {
			out.Outcomes = append(out.Outcomes, outcomeJSON{
				Name:       o.Name,
				Kind:       o.Kind.String(),
				Reason:     o.Reason,
				Added:      o.Added,
				Duplicates: o.Duplicates,
			})
		}
		return marshalJSON(out)
	default:
		return "", unsupportedFormat(format)
	}
}

func formatImportText(res coordinator.Result, p Palette) string {
	var sb strings.Builder
	if res.State == coordinator.StageFailed {
		fmt.Fprintf(&sb, "Import %s: %s\n", res.Name, p.bad("failed"))
		var se *coordinator.StageError
		if errors.As(res.Err, &se) {
			fmt.Fprintf(&sb, "  Stage:   %s\n", se.Stage)
			fmt.Fprintf(&sb, "  Reason:  %s\n", se.Reason)
			if se.Err != nil {
				fmt.Fprintf(&sb, "  Error:   %s\n", p.dim(se.Err))
			}
		}
		return sb.String()
	}

	fmt.Fprintf(&sb, "Import %s: %s\n", res.Name, p.ok(res.State))
	for _, o := range res.Outcomes {
		switch o.Kind {
		case importer.Failed:
			fmt.Fprintf(&sb, "  %s %s: %s\n", p.kind(o.Kind), o.Name, o.Reason)
		case importer.DuplicateSkipped:
			fmt.Fprintf(&sb, "  %s %s %s\n", p.kind(o.Kind), o.Name, p.dim(fmt.Sprintf("(%d already present)", o.Duplicates)))
		default:
			fmt.Fprintf(&sb, "  %s %s %s\n", p.kind(o.Kind), o.Name, p.dim(fmt.Sprintf("(%d added)", o.Added)))
		}
	}
	imported, duplicates, failed := res.Counts()
	fmt.Fprintf(&sb, "Summary: %d imported%s\n", imported, OutcomeAnnotation(duplicates, failed))
	if res.Truncated {
		fmt.Fprintf(&sb, "%s\n", p.warn("Archive enumeration stopped early; remaining entries were not imported."))
	}
	return sb.String()
}

var classTitles = map[certstore.Class]string{
	certstore.ClassIdentity:    "Identities",
	certstore.ClassCertificate: "Certificates",
	certstore.ClassKey:         "Keys",
	certstore.ClassAll:         "Items",
}

type itemJSON struct {
	Index int    `json:"index"`
	Class string `json:"class"`
	ID    string `json:"id"`
	Label string `json:"label"`
}

// FormatItems renders an enumerated item list with the row indexes that
// address it.
func FormatItems(class certstore.Class, items []certstore.Item, format string) (string, error) {
	switch format {
	case "text":
		title := classTitles[class]
		if len(items) == 0 {
			return fmt.Sprintf("No %s.\n", strings.ToLower(title)), nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s (%d):\n", title, len(items))
		for i, it := range items {
			if class == certstore.ClassAll {
				fmt.Fprintf(&sb, "  [%d] %-11s %s\n", i, it.Class, it.Label)
			} else {
				fmt.Fprintf(&sb, "  [%d] %s\n", i, it.Label)
			}
		}
		return sb.String(), nil
	case "json":
		out := make([]itemJSON, len(items))
		for i, it := range items {
			out[i] = itemJSON{Index: i, Class: string(it.Class), ID: it.ID, Label: it.Label}
		}
		return marshalJSON(out)
	default:
		return "", unsupportedFormat(format)
	}
}

// attributeLabels fixes the text order of well-known attributes. Unknown
// attributes follow in key order.
var attributeLabels = []struct{ key, label string }{
	{"class", "Class"},
	{"label", "Label"},
	{"subject", "Subject"},
	{"issuer", "Issuer"},
	{"serial", "Serial"},
	{"cert_type", "Type"},
	{"not_before", "Not Before"},
	{"not_after", "Not After"},
	{"key_type", "Key"},
	{"key_bits", "Key Bits"},
	{"sha256", "SHA-256"},
	{"ski", "SKI"},
	{"ssh_fingerprint", "SSH"},
	{"has_private_key", "Private Key"},
	{"trusted", "Trusted"},
}

// FormatAttributes renders the attribute mapping of one item.
func FormatAttributes(attrs map[string]string, format string) (string, error) {
	switch format {
	case "text":
		var sb strings.Builder
		seen := make(map[string]bool, len(attrs))
		for _, al := range attributeLabels {
			if v, ok := attrs[al.key]; ok {
				fmt.Fprintf(&sb, "  %-13s %s\n", al.label+":", v)
				seen[al.key] = true
			}
		}
		var rest []string
		for k := range attrs {
			if !seen[k] {
				rest = append(rest, k)
			}
		}
		slices.Sort(rest)
		for _, k := range rest {
			fmt.Fprintf(&sb, "  %-13s %s\n", k+":", attrs[k])
		}
		return sb.String(), nil
	case "json":
		return marshalJSON(attrs)
	default:
		return "", unsupportedFormat(format)
	}
}

// FormatSummary renders store counts as a single line, or as JSON.
func FormatSummary(sum certstore.Summary, format string) (string, error) {
	switch format {
	case "text":
		return fmt.Sprintf("Store: %d identities, %d certificates (%d root, %d intermediate, %d leaf), %d keys\n",
			sum.Identities, sum.Certificates, sum.Roots, sum.Intermediates, sum.Leaves, sum.Keys), nil
	case "json":
		return marshalJSON(sum)
	default:
		return "", unsupportedFormat(format)
	}
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func unsupportedFormat(format string) error {
	return fmt.Errorf("unsupported output format %q (use text or json)", format)
}
