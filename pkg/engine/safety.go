package engine

import "github.com/tunogya/fractal/pkg/model"

var safetyNotes = []string{
	"Historical analogues only; this is not a trading signal or a recommendation.",
	"Forward statistics describe what followed similar past windows and do not predict future prices.",
	"Excluded from model training; use as context only.",
}

// safety returns the annotations attached to every response
func safety() model.Safety {
	notes := make([]string, len(safetyNotes))
	copy(notes, safetyNotes)
	return model.Safety{
		ExcludedFromTraining: true,
		ContextOnly:          true,
		Notes:                notes,
	}
}
