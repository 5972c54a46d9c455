package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS devices (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    location    TEXT NOT NULL DEFAULT '',
    owner_id    INTEGER,
    is_active   INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS readers (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    rid         INTEGER NOT NULL,
    device_id   INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    name        TEXT NOT NULL DEFAULT '',
    x           REAL NOT NULL DEFAULT 0,
    y           REAL NOT NULL DEFAULT 0,
    location    TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    UNIQUE (rid, device_id)
);

CREATE TABLE IF NOT EXISTS tag_categories (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id   INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    color       TEXT NOT NULL DEFAULT '',
    parent_id   INTEGER REFERENCES tag_categories(id) ON DELETE SET NULL,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_tag_categories_parent ON tag_categories(parent_id);

CREATE TABLE IF NOT EXISTS tags (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    tid             INTEGER NOT NULL UNIQUE,
    device_id       INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    name            TEXT NOT NULL DEFAULT '',
    is_active       INTEGER NOT NULL DEFAULT 0,
    is_online       INTEGER NOT NULL DEFAULT 0,
    move_detect_on  INTEGER NOT NULL DEFAULT 0,
    light_detect_on INTEGER NOT NULL DEFAULT 1,
    mute_mode_on    INTEGER NOT NULL DEFAULT 0,
    category_id     INTEGER REFERENCES tag_categories(id) ON DELETE SET NULL,
    created_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_tags_presence ON tags(device_id, is_active, is_online);

CREATE TABLE IF NOT EXISTS tag_tracks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    tag_id      INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    reader1_id  INTEGER REFERENCES readers(id) ON DELETE SET NULL,
    distance1   REAL NOT NULL DEFAULT 0,
    reader2_id  INTEGER REFERENCES readers(id) ON DELETE SET NULL,
    distance2   REAL NOT NULL DEFAULT 0,
    reader3_id  INTEGER REFERENCES readers(id) ON DELETE SET NULL,
    distance3   REAL NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tag_tracks_tag_time ON tag_tracks(tag_id, created_at);

CREATE TABLE IF NOT EXISTS triggers (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    name              TEXT NOT NULL,
    is_active         INTEGER NOT NULL DEFAULT 1,
    callback_url      TEXT NOT NULL DEFAULT '',
    callback_protocol TEXT NOT NULL DEFAULT '',
    callback_params   TEXT NOT NULL DEFAULT '{}',
    callback_headers  TEXT NOT NULL DEFAULT '{}',
    callback_method   INTEGER NOT NULL DEFAULT 1,
    owner_id          INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS callbacks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    scope       INTEGER NOT NULL,
    target      INTEGER NOT NULL,
    is_active   INTEGER NOT NULL DEFAULT 1,
    trigger_id  INTEGER NOT NULL REFERENCES triggers(id) ON DELETE CASCADE,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_callbacks_scope ON callbacks(scope, target);

CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL DEFAULT '',
    caused_by   INTEGER NOT NULL,
    tag_id      INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_tag ON events(tag_id, created_at);

CREATE TABLE IF NOT EXISTS outbox (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    topic       TEXT NOT NULL,
    payload     BLOB NOT NULL,
    msg_type    TEXT NOT NULL DEFAULT '',
    device_uid  TEXT NOT NULL DEFAULT '',
    retries     INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    sent_at     TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at);
`
