package store

// schemaDDL is the canonical shape described in spec.md §3 and §6. It is
// deliberately free of the denormalized membership arrays the original
// schema carried — chat_members with left_at IS NULL is the only source
// of truth for membership (spec.md §9).
const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS workspaces (
	id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	name        text NOT NULL UNIQUE,
	owner_id    uuid NOT NULL,
	created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
	id             uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	workspace_id   uuid NOT NULL REFERENCES workspaces(id),
	full_name      text NOT NULL,
	email          text NOT NULL UNIQUE,
	password_hash  text NOT NULL,
	username       text UNIQUE,
	status         text NOT NULL DEFAULT 'active',
	is_bot         boolean NOT NULL DEFAULT false,
	last_active_at timestamptz,
	created_at     timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS refresh_credentials (
	id                   uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id              uuid NOT NULL REFERENCES users(id),
	token_hash           text NOT NULL UNIQUE,
	device_fingerprint   text NOT NULL DEFAULT '',
	issued_at            timestamptz NOT NULL DEFAULT now(),
	expires_at           timestamptz NOT NULL,
	absolute_expires_at  timestamptz NOT NULL,
	revoked              boolean NOT NULL DEFAULT false,
	replaced_by          uuid REFERENCES refresh_credentials(id)
);

CREATE TABLE IF NOT EXISTS chats (
	id           uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	workspace_id uuid NOT NULL REFERENCES workspaces(id),
	name         text,
	type         text NOT NULL,
	created_by   uuid NOT NULL REFERENCES users(id),
	created_at   timestamptz NOT NULL DEFAULT now(),
	is_public    boolean NOT NULL DEFAULT false,
	invite_code  text UNIQUE,
	max_members  int NOT NULL DEFAULT 0,
	settings     jsonb NOT NULL DEFAULT '{}'::jsonb,
	last_message_at timestamptz
);

CREATE TABLE IF NOT EXISTS chat_members (
	chat_id               uuid NOT NULL REFERENCES chats(id),
	user_id               uuid NOT NULL REFERENCES users(id),
	role                  text NOT NULL,
	joined_at             timestamptz NOT NULL DEFAULT now(),
	left_at               timestamptz,
	last_read_message_id  uuid,
	last_read_at          timestamptz,
	unread_mentions_count int NOT NULL DEFAULT 0,
	muted_until           timestamptz,
	is_banned             boolean NOT NULL DEFAULT false,
	PRIMARY KEY (chat_id, user_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS chat_members_active_uidx
	ON chat_members (chat_id, user_id) WHERE left_at IS NULL;

CREATE TABLE IF NOT EXISTS chat_sequences (
	chat_id       uuid PRIMARY KEY REFERENCES chats(id),
	last_sequence bigint NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	id               uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	chat_id          uuid NOT NULL REFERENCES chats(id),
	sender_id        uuid NOT NULL REFERENCES users(id),
	content          text NOT NULL,
	files            jsonb NOT NULL DEFAULT '[]'::jsonb,
	reply_to         uuid REFERENCES messages(id),
	idempotency_key  text,
	sequence_number  bigint NOT NULL,
	created_at       timestamptz NOT NULL DEFAULT now(),
	updated_at       timestamptz NOT NULL DEFAULT now(),
	is_edited        boolean NOT NULL DEFAULT false,
	edit_count       int NOT NULL DEFAULT 0,
	priority         text NOT NULL DEFAULT 'normal',
	status           text NOT NULL DEFAULT 'sent',
	deleted          boolean NOT NULL DEFAULT false,
	UNIQUE (chat_id, sequence_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS messages_idempotency_uidx
	ON messages (chat_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

CREATE INDEX IF NOT EXISTS messages_chat_seq_idx ON messages (chat_id, sequence_number);

CREATE TABLE IF NOT EXISTS message_edit_history (
	id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	message_id  uuid NOT NULL REFERENCES messages(id),
	prior_content text NOT NULL,
	edited_by   uuid NOT NULL REFERENCES users(id),
	edited_at   timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS message_mentions (
	message_id        uuid NOT NULL REFERENCES messages(id),
	mentioned_user_id uuid NOT NULL REFERENCES users(id),
	kind              text NOT NULL,
	PRIMARY KEY (message_id, mentioned_user_id)
);

CREATE INDEX IF NOT EXISTS message_mentions_user_idx ON message_mentions (mentioned_user_id);

CREATE TABLE IF NOT EXISTS message_receipts (
	message_id   uuid NOT NULL REFERENCES messages(id),
	user_id      uuid NOT NULL REFERENCES users(id),
	delivered_at timestamptz,
	read_at      timestamptz,
	PRIMARY KEY (message_id, user_id)
);

CREATE TABLE IF NOT EXISTS typing_indicators (
	chat_id    uuid NOT NULL,
	user_id    uuid NOT NULL,
	started_at timestamptz NOT NULL,
	expires_at timestamptz NOT NULL,
	PRIMARY KEY (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS user_presence (
	user_id       uuid PRIMARY KEY REFERENCES users(id),
	status        text NOT NULL DEFAULT 'offline',
	custom_status text NOT NULL DEFAULT '',
	last_seen     timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outbox (
	id              uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	aggregate_type  text NOT NULL,
	aggregate_id    uuid NOT NULL,
	chat_id         uuid NOT NULL,
	sequence_number bigint NOT NULL DEFAULT 0,
	event_type      text NOT NULL,
	payload         jsonb NOT NULL,
	created_at      timestamptz NOT NULL DEFAULT now(),
	published_at    timestamptz
);

CREATE INDEX IF NOT EXISTS outbox_unpublished_idx ON outbox (published_at, id) WHERE published_at IS NULL;
CREATE INDEX IF NOT EXISTS outbox_chat_seq_idx ON outbox (chat_id, sequence_number);
`
