package rpc

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Sentinel Errors returned by the rpc package.
var (
	ErrCredentials = errors.New("credentials setup error")
	ErrCertLoad    = errors.New("certificate load error")
	ErrCASetup     = errors.New("CA setup error")
	ErrClientConn  = errors.New("client connection error")
	ErrCodec       = errors.New("codec error")
)

// Client dispatches job-control commands over a single gRPC connection. It
// is safe for concurrent use and should be shared by all job handles talking
// to the same service.
type Client struct {
	conn *grpc.ClientConn
}

type options struct {
	clientCert    string
	clientKey     string
	serverCA      string
	tls           bool
	insecure      bool
	meterProvider metric.MeterProvider
	dialOpts      []grpc.DialOption
}

// Option is a functional option for the Client.
type Option func(*options)

// WithTLS configures mTLS with the given client certificate and key. The
// server CA certificate is optional if it is part of the system's root
// certificates.
func WithTLS(clientCert, clientKey, serverCA string) Option {
	return func(o *options) {
		o.tls = true
		o.clientCert = clientCert
		o.clientKey = clientKey
		o.serverCA = serverCA
	}
}

// WithInsecure configures a plain text connection.
func WithInsecure() Option {
	return func(o *options) {
		o.insecure = true
	}
}

// WithMeterProvider sets the meter provider used for call metrics. The
// default is the global provider, see otel.GetMeterProvider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithDialOptions appends raw gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) {
		o.dialOpts = append(o.dialOpts, opts...)
	}
}

// NewClient creates a new Client for the job-control service at the given
// address. The connection is established lazily on the first call.
//
// Either [WithTLS] or [WithInsecure] must be given.
func NewClient(address string, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	creds, err := transportCredentials(o)
	if err != nil {
		return nil, fmt.Errorf("NewClient: %w", err)
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	m, err := newMetrics(o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("NewClient: %w", err)
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(m.unaryInterceptor),
	}
	dialOpts = append(dialOpts, o.dialOpts...)
	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: address %q: %w", address, err)
	}
	return &Client{conn: conn}, nil
}

func transportCredentials(o *options) (credentials.TransportCredentials, error) {
	switch {
	case o.tls && o.insecure:
		return nil, fmt.Errorf("%w: TLS and insecure are mutually exclusive", ErrCredentials)
	case o.insecure:
		return insecure.NewCredentials(), nil
	case o.tls:
		tlsConfig, err := clientTLSConfig(o.clientCert, o.clientKey, o.serverCA)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCredentials, err)
		}
		return credentials.NewTLS(tlsConfig), nil
	default:
		return nil, fmt.Errorf("%w: no transport credentials configured", ErrCredentials)
	}
}

// Invoke sends req to the given command, a full gRPC method name, and
// decodes the reply into resp. Errors are gRPC status errors and are returned
// unchanged.
func (c *Client) Invoke(ctx context.Context, command string, req, resp any) error {
	return c.conn.Invoke(ctx, command, req, resp, grpc.ForceCodec(Codec{})) //nolint:wrapcheck // pass through
}

// Close closes the client's connection to the server.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("%w: cannot close: %w", ErrClientConn, err)
	}
	return nil
}
