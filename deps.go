//go:build deps

package intellikeeper

// Force module dependencies for packages used across the project.
import (
	_ "github.com/eclipse/paho.mqtt.golang"
	_ "github.com/go-chi/chi/v5"
	_ "github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/prometheus/client_golang/prometheus"
	_ "github.com/redis/go-redis/v9"
	_ "github.com/segmentio/kafka-go"
	_ "github.com/twilio/twilio-go"
	_ "golang.org/x/sync/errgroup"
	_ "gopkg.in/gomail.v2"
	_ "gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"
)
