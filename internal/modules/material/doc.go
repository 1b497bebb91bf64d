package material

// Package material documents the endpoint contract for acknowledging and
// consuming dispatched material.
//
// Site data comes from `GET /material/dispatch-details/?pd_id=&site_id=`.
// The endpoint can repeat a dispatch once per component, so rows are
// deduplicated by dispatch id and the first row wins.
//
// Each dispatch has at most one acknowledgement, read from
// `GET /site-incharge/acknowledgement-details?material_dispatch_id=`. The
// first row is the record (some builds wrap it as `{acknowledgement: {...}}`);
// no rows means not yet acknowledged. Saving is an upsert keyed by that
// record: POST `/site-incharge/acknowledge-material` when it is absent and
// PUT `/site-incharge/acknowledge-material/{dispatchId}` when it exists. A
// second POST would create a duplicate record server-side.
//
// Consumption is reported separately through
// `POST /site-incharge/usage-material`.
