package store

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS devices (
    id          BIGSERIAL PRIMARY KEY,
    external_id TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    location    TEXT NOT NULL DEFAULT '',
    owner_id    BIGINT,
    is_active   BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS readers (
    id          BIGSERIAL PRIMARY KEY,
    rid         INTEGER NOT NULL,
    device_id   BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    name        TEXT NOT NULL DEFAULT '',
    x           DOUBLE PRECISION NOT NULL DEFAULT 0,
    y           DOUBLE PRECISION NOT NULL DEFAULT 0,
    location    TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (rid, device_id)
);

CREATE TABLE IF NOT EXISTS tag_categories (
    id          BIGSERIAL PRIMARY KEY,
    device_id   BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    color       TEXT NOT NULL DEFAULT '',
    parent_id   BIGINT REFERENCES tag_categories(id) ON DELETE SET NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tag_categories_parent ON tag_categories(parent_id);

CREATE TABLE IF NOT EXISTS tags (
    id              BIGSERIAL PRIMARY KEY,
    tid             INTEGER NOT NULL UNIQUE,
    device_id       BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    name            TEXT NOT NULL DEFAULT '',
    is_active       BOOLEAN NOT NULL DEFAULT FALSE,
    is_online       BOOLEAN NOT NULL DEFAULT FALSE,
    move_detect_on  BOOLEAN NOT NULL DEFAULT FALSE,
    light_detect_on BOOLEAN NOT NULL DEFAULT TRUE,
    mute_mode_on    BOOLEAN NOT NULL DEFAULT FALSE,
    category_id     BIGINT REFERENCES tag_categories(id) ON DELETE SET NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tags_presence ON tags(device_id, is_active, is_online);

CREATE TABLE IF NOT EXISTS tag_tracks (
    id          BIGSERIAL PRIMARY KEY,
    tag_id      BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    reader1_id  BIGINT REFERENCES readers(id) ON DELETE SET NULL,
    distance1   DOUBLE PRECISION NOT NULL DEFAULT 0,
    reader2_id  BIGINT REFERENCES readers(id) ON DELETE SET NULL,
    distance2   DOUBLE PRECISION NOT NULL DEFAULT 0,
    reader3_id  BIGINT REFERENCES readers(id) ON DELETE SET NULL,
    distance3   DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tag_tracks_tag_time ON tag_tracks(tag_id, created_at);

CREATE TABLE IF NOT EXISTS triggers (
    id                BIGSERIAL PRIMARY KEY,
    name              TEXT NOT NULL,
    is_active         BOOLEAN NOT NULL DEFAULT TRUE,
    callback_url      TEXT NOT NULL DEFAULT '',
    callback_protocol TEXT NOT NULL DEFAULT '',
    callback_params   TEXT NOT NULL DEFAULT '{}',
    callback_headers  TEXT NOT NULL DEFAULT '{}',
    callback_method   INTEGER NOT NULL DEFAULT 1,
    owner_id          BIGINT NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS callbacks (
    id          BIGSERIAL PRIMARY KEY,
    scope       INTEGER NOT NULL,
    target      BIGINT NOT NULL,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    trigger_id  BIGINT NOT NULL REFERENCES triggers(id) ON DELETE CASCADE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_callbacks_scope ON callbacks(scope, target);

CREATE TABLE IF NOT EXISTS events (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    caused_by   INTEGER NOT NULL,
    tag_id      BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_tag ON events(tag_id, created_at);

CREATE TABLE IF NOT EXISTS outbox (
    id          BIGSERIAL PRIMARY KEY,
    topic       TEXT NOT NULL,
    payload     BYTEA NOT NULL,
    msg_type    TEXT NOT NULL DEFAULT '',
    device_uid  TEXT NOT NULL DEFAULT '',
    retries     INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    sent_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at) WHERE sent_at IS NULL;
`
