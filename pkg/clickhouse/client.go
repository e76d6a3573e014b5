package clickhouse

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
)

type (
	// Client represents a ClickHouse database connection.
	Client struct {
		conn driver.Conn
	}

	// TLSSettings holds the certificate paths for mTLS connections. All
	// three must be set together; leaving them empty selects a plaintext
	// connection.
	TLSSettings struct {
		CAFile   string
		CertFile string
		KeyFile  string
	}

	// ClientOptions contains optional connection settings.
	ClientOptions struct {
		TLSSettings TLSSettings
	}
)

// NewClient creates a new ClickHouse client connection and verifies it with
// a ping. The DSN should be in the format "host:port" (e.g.,
// "localhost:9000").
//
// Example:
//
//	client, err := clickhouse.NewClient(ctx, "localhost:9000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
func NewClient(ctx context.Context, dsn string) (*Client, error) {
	return NewClientWithOptions(ctx, dsn, ClientOptions{})
}

// NewClientWithOptions creates a new ClickHouse client connection with the
// provided options, enabling mTLS when certificate paths are configured.
func NewClientWithOptions(ctx context.Context, dsn string, opts ClientOptions) (*Client, error) {
	chOpts := &clickhouse.Options{
		Addr: []string{dsn},
	}

	if opts.TLSSettings.CertFile != "" {
		tlsConfig, err := GetTLSConfig(opts)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build TLS config")
		}
		chOpts.TLS = tlsConfig
	}

	conn, err := clickhouse.Open(chOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open connection to %s", dsn)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to ping %s", dsn)
	}

	return &Client{conn: conn}, nil
}

// Query runs a query against the store and returns its rows.
func (c *Client) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// Exec executes a statement against the store.
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close closes the ClickHouse connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
