package work

// Package work documents the endpoint contract for work-completion entry.
//
// Site data:
//   - `GET /reckoner/reckoner/` returns every reckoner line for every site;
//     rows are kept only when their `site_id` matches the selected site.
//   - `GET /site-incharge/work-descriptions?site_id=` lists the work
//     descriptions used to narrow the reckoner.
//
// History: `GET /site-incharge/completion-entries?rec_id=&date=` answers
// `{status, data: {cumulative_area, entries: [{area_added, created_at}]}}`.
// A non-"success" status is treated as a failed fetch so the line falls back
// to an empty history instead of showing stale numbers.
//
// Writes are append-only: every save posts a new
// `{rec_id, area_added, rate, value, created_by, entry_date}` record to
// `/site-incharge/completion-status`, with value = area × rate at 2 dp.
