// Package status projects a record's delivery status onto its display form,
// following the read-receipt convention: one mark for sent, two for
// delivered, two colored marks for read.
package status

import "github.com/umamaheshmadala/sync-warp-sub014/internal/models"

// Indicator is the shape shown next to a message.
type Indicator string

const (
	IndicatorNone     Indicator = "none"
	IndicatorProgress Indicator = "progress"
	IndicatorSingle   Indicator = "single"
	IndicatorDouble   Indicator = "double"
	IndicatorError    Indicator = "error"
)

// Tone is the color treatment of an indicator.
type Tone string

const (
	// ToneNeutral carries no color emphasis.
	ToneNeutral  Tone = "neutral"
	ToneMuted    Tone = "muted"
	ToneEmphasis Tone = "emphasis"
	ToneAlert    Tone = "alert"
)

// Rendering is the display form of one status.
type Rendering struct {
	Status    models.DeliveryStatus
	Indicator Indicator
	Tone      Tone
	Glyph     string
	Label     string
	// Visible is false for statuses outside the known set.
	Visible bool
}

// Project maps status to its rendering. It is total: unknown values,
// including the empty status, render nothing.
func Project(s models.DeliveryStatus) Rendering {
	switch s {
	case models.StatusSending:
		return Rendering{Status: s, Indicator: IndicatorProgress, Tone: ToneNeutral, Glyph: "◷", Label: "Sending", Visible: true}
	case models.StatusPending:
		return Rendering{Status: s, Indicator: IndicatorProgress, Tone: ToneNeutral, Glyph: "◷", Label: "Pending", Visible: true}
	case models.StatusSent:
		return Rendering{Status: s, Indicator: IndicatorSingle, Tone: ToneMuted, Glyph: "✓", Label: "Sent", Visible: true}
	case models.StatusDelivered:
		return Rendering{Status: s, Indicator: IndicatorDouble, Tone: ToneMuted, Glyph: "✓✓", Label: "Delivered", Visible: true}
	case models.StatusRead:
		return Rendering{Status: s, Indicator: IndicatorDouble, Tone: ToneEmphasis, Glyph: "✓✓", Label: "Read", Visible: true}
	case models.StatusFailed:
		return Rendering{Status: s, Indicator: IndicatorError, Tone: ToneAlert, Glyph: "!", Label: "Failed to send", Visible: true}
	default:
		return Rendering{Status: s, Indicator: IndicatorNone, Tone: ToneNeutral}
	}
}

// ProjectRecord projects the status of r.
func ProjectRecord(r models.Record) Rendering {
	return Project(r.Status)
}
