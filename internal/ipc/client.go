package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// serviceName is the RPC receiver name shared by server and client.
const serviceName = "Kontext"

const dialTimeout = 2 * time.Second

// Client issues control requests against a running daemon.
type Client struct {
	rpc *rpc.Client
}

// Dial opens the control socket. Connection attempts are bounded so a CLI
// call never hangs on a dead socket file.
func Dial(path string) (*Client, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close releases the socket connection. Safe on a nil client.
func (c *Client) Close() error {
	if c == nil || c.rpc == nil {
		return nil
	}
	return c.rpc.Close()
}

// call issues a single RPC and decodes the reply into a fresh Resp.
func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.rpc.Call(serviceName+"."+method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Stop requests the daemon process to shut down.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// Status fetches the daemon's runtime snapshot.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// QueueList returns the running and waiting jobs in dispatch order.
func (c *Client) QueueList() (*QueueListResponse, error) {
	return call[QueueListResponse](c, "QueueList", QueueListRequest{})
}

// QueueClear cancels every waiting job.
func (c *Client) QueueClear() (*QueueClearResponse, error) {
	return call[QueueClearResponse](c, "QueueClear", QueueClearRequest{})
}

// Kill engages the kill switch.
func (c *Client) Kill(requestedBy string) (*KillResponse, error) {
	return call[KillResponse](c, "Kill", KillRequest{RequestedBy: requestedBy})
}

// History returns recent generation records, newest first.
func (c *Client) History(limit int) (*HistoryResponse, error) {
	return call[HistoryResponse](c, "History", HistoryRequest{Limit: limit})
}

// LogTail reads daemon log lines per the request's offset and follow mode.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailResponse](c, "LogTail", req)
}

// TestNotification asks the daemon to push a test notification.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
