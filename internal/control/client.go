// Package control is the client side of a profile's control socket.
package control

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Services reported on the control socket. The empty name is the process.
var Services = []string{"", "chat", "notify"}

// Client wraps the gRPC connection to a running sync core.
type Client struct {
	conn   *grpc.ClientConn
	Health healthpb.HealthClient
}

// New dials the profile's Unix domain socket. The connection is lazy; errors
// surface on the first call.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{
		conn:   conn,
		Health: healthpb.NewHealthClient(conn),
	}, nil
}

// Check returns the health response for one service.
func (c *Client) Check(ctx context.Context, service string) (*healthpb.HealthCheckResponse, error) {
	return c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Reachable reports whether a sync core answers on socketPath.
func Reachable(socketPath string, timeout time.Duration) bool {
	c, err := New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := c.Check(ctx, "")
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// WaitReady polls Reachable until it succeeds or timeout elapses.
func WaitReady(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if Reachable(socketPath, 2*time.Second) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
