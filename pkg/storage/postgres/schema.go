package postgres

import (
	"context"
	"fmt"
)

// Schema creates every table the stores need. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS forward_rules (
	id              BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	name            TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	enabled         BOOLEAN NOT NULL DEFAULT TRUE,
	rule_type       TEXT NOT NULL,
	match_type      TEXT NOT NULL,
	keywords        TEXT[] NOT NULL DEFAULT '{}',
	sender_patterns TEXT[] NOT NULL DEFAULT '{}',
	priority        INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS forward_rules_enabled_order ON forward_rules (priority DESC, id ASC) WHERE enabled;

CREATE TABLE IF NOT EXISTS email_configs (
	id              BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	provider        TEXT NOT NULL DEFAULT 'custom',
	smtp_host       TEXT NOT NULL,
	smtp_port       INTEGER NOT NULL,
	sender_email    TEXT NOT NULL,
	sender_password TEXT NOT NULL DEFAULT '',
	receiver_email  TEXT NOT NULL,
	enable_tls      BOOLEAN NOT NULL DEFAULT FALSE,
	enable_ssl      BOOLEAN NOT NULL DEFAULT FALSE,
	is_default      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS email_configs_single_default ON email_configs (is_default) WHERE is_default;

CREATE TABLE IF NOT EXISTS messages (
	id             BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	sender         TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL DEFAULT '',
	received_at    TIMESTAMPTZ NOT NULL,
	forward_status TEXT NOT NULL DEFAULT 'PENDING',
	forwarded_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS messages_received_at ON messages (received_at);
CREATE INDEX IF NOT EXISTS messages_forward_status ON messages (forward_status);

CREATE TABLE IF NOT EXISTS forward_records (
	id                          BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	sms_id                      BIGINT NOT NULL UNIQUE,
	email_config_id             BIGINT,
	matched_rule_id             BIGINT,
	sender                      TEXT NOT NULL DEFAULT '',
	content                     TEXT NOT NULL DEFAULT '',
	email_subject               TEXT NOT NULL DEFAULT '',
	email_body                  TEXT NOT NULL DEFAULT '',
	status                      TEXT NOT NULL,
	error_message               TEXT NOT NULL DEFAULT '',
	retry_count                 INTEGER NOT NULL DEFAULT 0,
	timestamp                   TIMESTAMPTZ NOT NULL,
	processing_time             BIGINT,
	execution_duration_ms       BIGINT,
	email_send_duration_ms      BIGINT,
	queue_wait_time_ms          BIGINT,
	processing_delay_ms         BIGINT,
	original_timestamp          TIMESTAMPTZ,
	device_battery_level        INTEGER,
	device_is_charging          BOOLEAN,
	device_is_in_doze_mode      BOOLEAN,
	network_type                TEXT,
	background_capability_score INTEGER,
	system_load                 DOUBLE PRECISION,
	vendor_optimization_active  BOOLEAN,
	sim_slot                    INTEGER,
	sim_operator                TEXT,
	execution_strategy          TEXT NOT NULL DEFAULT '',
	message_type                TEXT NOT NULL DEFAULT '',
	message_priority            TEXT NOT NULL DEFAULT '',
	confidence_score            DOUBLE PRECISION,
	failure_category            TEXT NOT NULL DEFAULT '',
	is_auto_retry               BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS forward_records_status_ts ON forward_records (status, timestamp DESC);
CREATE INDEX IF NOT EXISTS forward_records_ts ON forward_records (timestamp DESC);

CREATE TABLE IF NOT EXISTS forward_statistics (
	date                    TEXT PRIMARY KEY,
	total_received          BIGINT NOT NULL DEFAULT 0,
	total_forwarded         BIGINT NOT NULL DEFAULT 0,
	total_failed            BIGINT NOT NULL DEFAULT 0,
	total_ignored           BIGINT NOT NULL DEFAULT 0,
	average_processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
	processing_samples      BIGINT NOT NULL DEFAULT 0,
	success_rate            DOUBLE PRECISION NOT NULL DEFAULT 0
);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
