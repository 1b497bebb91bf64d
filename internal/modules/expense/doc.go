package expense

// Package expense documents the endpoint contract for booking actual
// expenses against split site budgets.
//
// Entering the domain triggers `GET /site-incharge/calculate-labour-budget`
// once so labour-derived budgets are current; a failure is logged and
// otherwise ignored.
//
// Site data:
//   - `GET /site-incharge/budget-work-descriptions/{siteId}`
//   - `GET /site-incharge/budget-details?site_id=`; the material (1) and
//     labour (2) overheads are maintained by their own domains and hidden.
//
// History: `GET /site-incharge/budget-expense-details?actual_budget_id=&date=`
// answers `{cumulative: {actual_value}, entries: [...]}`. When it fails the
// allocation shows its last known actual value as a single entry.
//
// Writes are append-only posts of
// `{actual_budget_id, entry_date, actual_value, remarks, created_by}` to
// `/site-incharge/save-budget-expense`.
