package calendar

import "github.com/bobmcallan/folio/internal/models"

// builtinHolidays lists full-day exchange closures per market and year.
// Years missing here fall back to the weekday rule with a CalendarGap warning.
var builtinHolidays = map[models.Market]map[int][]string{
	models.MarketHK: {
		2024: {
			"2024-01-01", "2024-02-12", "2024-02-13", "2024-03-29", "2024-04-01",
			"2024-04-04", "2024-05-01", "2024-05-15", "2024-06-10", "2024-07-01",
			"2024-09-18", "2024-10-01", "2024-10-11", "2024-12-25", "2024-12-26",
		},
		2025: {
			"2025-01-01", "2025-01-29", "2025-01-30", "2025-01-31", "2025-04-04",
			"2025-04-18", "2025-04-21", "2025-05-01", "2025-05-05", "2025-07-01",
			"2025-10-01", "2025-10-07", "2025-10-29", "2025-12-25", "2025-12-26",
		},
		2026: {
			"2026-01-01", "2026-02-17", "2026-02-18", "2026-02-19", "2026-04-03",
			"2026-04-06", "2026-04-07", "2026-05-01", "2026-05-25", "2026-06-19",
			"2026-07-01", "2026-10-01", "2026-10-19", "2026-12-25", "2026-12-28",
		},
	},
	models.MarketUS: {
		2024: {
			"2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29", "2024-05-27",
			"2024-06-19", "2024-07-04", "2024-09-02", "2024-11-28", "2024-12-25",
		},
		2025: {
			"2025-01-01", "2025-01-09", "2025-01-20", "2025-02-17", "2025-04-18",
			"2025-05-26", "2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27",
			"2025-12-25",
		},
		2026: {
			"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25",
			"2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25",
		},
	},
}
