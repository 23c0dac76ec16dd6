package postgres

// Schema (managed externally):
//
//	CREATE TABLE triggers (
//	    id             UUID PRIMARY KEY,
//	    name           TEXT NOT NULL,
//	    resource_owner TEXT NOT NULL,
//	    resource_team  TEXT NOT NULL,
//	    resource_name  TEXT NOT NULL,
//	    action         TEXT NOT NULL,
//	    machine_type   TEXT NOT NULL DEFAULT '',
//	    recurrence     JSONB NOT NULL,
//	    enabled        BOOLEAN NOT NULL,
//	    status         TEXT NOT NULL,
//	    post_start     JSONB,
//	    pre_stop       JSONB,
//	    last_fired_at  TIMESTAMPTZ,
//	    next_fire_at   TIMESTAMPTZ,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    updated_at     TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE state_changes (
//	    id          UUID PRIMARY KEY,
//	    resource    TEXT NOT NULL,
//	    from_state  TEXT NOT NULL,
//	    to_state    TEXT NOT NULL,
//	    reason      TEXT NOT NULL DEFAULT '',
//	    observed_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX state_changes_resource_observed ON state_changes (resource, observed_at);
//
//	CREATE TABLE executions (
//	    id           UUID PRIMARY KEY,
//	    trigger_id   UUID NOT NULL,
//	    resource     TEXT NOT NULL,
//	    action       TEXT NOT NULL,
//	    scheduled_at TIMESTAMPTZ NOT NULL,
//	    fired_at     TIMESTAMPTZ NOT NULL,
//	    outcome      TEXT NOT NULL,
//	    error        TEXT NOT NULL DEFAULT '',
//	    pre_stop     JSONB,
//	    post_start   JSONB,
//	    duration_ms  BIGINT NOT NULL,
//	    created_at   TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX executions_trigger_fired ON executions (trigger_id, fired_at);

const triggerColumns = `
    id, name, resource_owner, resource_team, resource_name,
    action, machine_type, recurrence, enabled, status, post_start, pre_stop,
    last_fired_at, next_fire_at, created_at, updated_at`

const queryInsertTrigger = `
INSERT INTO triggers (id, name, resource_owner, resource_team, resource_name,
    action, machine_type, recurrence, enabled, status, post_start, pre_stop,
    last_fired_at, next_fire_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

const queryGetTrigger = `
SELECT` + triggerColumns + `
FROM triggers
WHERE id = $1
`

const queryListTriggers = `
SELECT` + triggerColumns + `
FROM triggers
ORDER BY created_at, id
`

const queryListEnabledTriggers = `
SELECT` + triggerColumns + `
FROM triggers
WHERE enabled = true AND status = 'active'
ORDER BY created_at, id
`

const queryUpdateTrigger = `
UPDATE triggers
SET name = $2, resource_owner = $3, resource_team = $4, resource_name = $5,
    action = $6, machine_type = $7, recurrence = $8, enabled = $9, status = $10,
    post_start = $11, pre_stop = $12, last_fired_at = $13, next_fire_at = $14,
    updated_at = $15
WHERE id = $1
`

const queryDeleteTrigger = `
DELETE FROM triggers WHERE id = $1
`

// The status guard keeps a firing from resurrecting a trigger that a
// concurrent writer already spent.
const queryMarkFired = `
UPDATE triggers
SET last_fired_at = $2, next_fire_at = $3,
    status = CASE WHEN $4 THEN 'spent' ELSE status END,
    updated_at = $2
WHERE id = $1 AND status = 'active'
`

const queryInsertStateChange = `
INSERT INTO state_changes (id, resource, from_state, to_state, reason, observed_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryInsertExecution = `
INSERT INTO executions (id, trigger_id, resource, action, scheduled_at, fired_at,
    outcome, error, pre_stop, post_start, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

const queryListExecutions = `
SELECT id, trigger_id, resource, action, scheduled_at, fired_at,
    outcome, error, pre_stop, post_start, duration_ms
FROM executions
WHERE trigger_id = $1
ORDER BY fired_at DESC
LIMIT $2 OFFSET $3
`
