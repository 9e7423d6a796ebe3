package events

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"purchases/internal/customerinfo"
)

// CustomerInfoEvent is published whenever a reconciliation produces a new
// subscriber snapshot.
type CustomerInfoEvent struct {
	AppUserID           string   `json:"app_user_id"`
	ActiveEntitlements  []string `json:"active_entitlements"`
	ActiveSubscriptions []string `json:"active_subscriptions"`
	RequestDate         string   `json:"request_date"`
}

// TransactionEvent is published for every resolved store transaction.
type TransactionEvent struct {
	AppUserID string `json:"app_user_id"`
	Product   string `json:"product"`
	State     string `json:"state"`
	Restore   bool   `json:"restore"`
	Error     string `json:"error,omitempty"`
}

// DataSender handles NATS communication for purchase events
type DataSender struct {
	conn            *nats.Conn
	customerSubject string
	txSubject       string
	enabled         bool

	// gateway mirrors every event to the system event gateway; CreateEvent
	// is a no-op when no gateway is configured.
	gateway *Client
}

// Config holds NATS configuration
type Config struct {
	Host            string
	Port            string
	Username        string
	Password        string
	CustomerSubject string
	TxSubject       string
}

// NewDataSender creates a new DataSender instance
func NewDataSender() (*DataSender, error) {
	// Check if we're in development environment
	env := os.Getenv("GO_ENV")
	if env == "development" || env == "dev" {
		log.Println("Development environment detected, NATS data sender disabled")
		return &DataSender{enabled: false}, nil
	}

	config := loadConfig()

	natsURL := fmt.Sprintf("nats://%s:%s@%s:%s",
		config.Username, config.Password, config.Host, config.Port)

	conn, err := nats.Connect(natsURL,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Printf("Connected to NATS server at %s:%s", config.Host, config.Port)

	return &DataSender{
		conn:            conn,
		customerSubject: config.CustomerSubject,
		txSubject:       config.TxSubject,
		enabled:         true,
		gateway:         NewClient(),
	}, nil
}

// loadConfig loads NATS configuration from environment variables
func loadConfig() Config {
	return Config{
		Host:            getEnvOrDefault("NATS_HOST", "localhost"),
		Port:            getEnvOrDefault("NATS_PORT", "4222"),
		Username:        getEnvOrDefault("NATS_USERNAME", ""),
		Password:        getEnvOrDefault("NATS_PASSWORD", ""),
		CustomerSubject: getEnvOrDefault("NATS_SUBJECT_CUSTOMER_INFO", "purchases.customer_info"),
		TxSubject:       getEnvOrDefault("NATS_SUBJECT_TRANSACTIONS", "purchases.transactions"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SendCustomerInfoUpdate publishes a customer-info event to NATS
func (ds *DataSender) SendCustomerInfoUpdate(appUserID string, info *customerinfo.CustomerInfo) error {
	active := make([]string, 0, len(info.Entitlements.All))
	for id := range info.Entitlements.Active() {
		active = append(active, id)
	}
	event := CustomerInfoEvent{
		AppUserID:           appUserID,
		ActiveEntitlements:  active,
		ActiveSubscriptions: info.ActiveSubscriptions(),
		RequestDate:         info.RequestDate.Format(time.RFC3339),
	}
	return ds.publish(ds.customerSubject, event)
}

// SendTransactionEvent publishes a transaction event to NATS
func (ds *DataSender) SendTransactionEvent(event TransactionEvent) error {
	return ds.publish(ds.txSubject, event)
}

func (ds *DataSender) publish(subject string, payload interface{}) error {
	if !ds.enabled {
		log.Println("NATS data sender is disabled, skipping message send")
		return nil
	}

	if ds.conn == nil {
		return fmt.Errorf("NATS connection is not initialized")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := ds.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish message to NATS: %w", err)
	}

	if ds.gateway != nil {
		if err := ds.gateway.CreateEvent(subject, payload); err != nil {
			log.Printf("failed to mirror event %s to gateway: %v", subject, err)
		}
	}

	return nil
}

// Close closes the NATS connection
func (ds *DataSender) Close() {
	if ds.conn != nil && ds.enabled {
		ds.conn.Close()
		log.Println("NATS connection closed")
	}
}
