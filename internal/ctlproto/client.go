package ctlproto

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to a running daemon's control socket.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// JobList returns the most recent jobs.
func (c *Client) JobList() (*JobListResponse, error) {
	var resp JobListResponse
	if err := c.client.Call("Ctl.JobList", JobListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobGet fetches one job by id.
func (c *Client) JobGet(id int64) (*JobGetResponse, error) {
	var resp JobGetResponse
	if err := c.client.Call("Ctl.JobGet", JobGetRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TitleList fetches a job's titles.
func (c *Client) TitleList(jobID int64) (*TitleListResponse, error) {
	var resp TitleListResponse
	if err := c.client.Call("Ctl.TitleList", TitleListRequest{JobID: jobID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobStart begins ripping a job from idle or review_needed.
func (c *Client) JobStart(id int64) error {
	var resp JobActionResponse
	return c.client.Call("Ctl.JobStart", JobActionRequest{ID: id}, &resp)
}

// JobCancel cancels an in-flight job.
func (c *Client) JobCancel(id int64) error {
	var resp JobActionResponse
	return c.client.Call("Ctl.JobCancel", JobActionRequest{ID: id}, &resp)
}

// JobProcessMatched triggers the Conflict Resolver's placement pass.
func (c *Client) JobProcessMatched(id int64) error {
	var resp JobActionResponse
	return c.client.Call("Ctl.JobProcessMatched", JobActionRequest{ID: id}, &resp)
}

// JobDelete removes a terminal job and its titles.
func (c *Client) JobDelete(id int64) error {
	var resp JobActionResponse
	return c.client.Call("Ctl.JobDelete", JobActionRequest{ID: id}, &resp)
}

// JobReview applies an operator's review decision to one title.
func (c *Client) JobReview(req JobReviewRequest) error {
	var resp JobReviewResponse
	return c.client.Call("Ctl.JobReview", req, &resp)
}

// ConfigGet fetches the live config, redacted.
func (c *Client) ConfigGet() (*ConfigGetResponse, error) {
	var resp ConfigGetResponse
	if err := c.client.Call("Ctl.ConfigGet", ConfigGetRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConfigUpdate merges a partial config document into the live config.
func (c *Client) ConfigUpdate(body []byte) (*ConfigUpdateResponse, error) {
	var resp ConfigUpdateResponse
	if err := c.client.Call("Ctl.ConfigUpdate", ConfigUpdateRequest{Body: body}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches daemon liveness and per-state job counts.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Ctl.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Ctl.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EventTail fetches events published since After. Set Follow and WaitMillis
// to long-poll for the next batch when none are available yet.
func (c *Client) EventTail(req EventTailRequest) (*EventTailResponse, error) {
	var resp EventTailResponse
	if err := c.client.Call("Ctl.EventTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
