package model

const (
    ConnectionOnline  = "online"
    ConnectionOffline = "offline"
)

// Connection is a tenant's WhatsApp session on the transport.
type Connection struct {
    ID       string `db:"id" json:"id"`
    TenantID string `db:"tenant_id" json:"tenant_id"`
    Name     string `db:"name" json:"name"`
    Token    string `db:"token" json:"-"`
    Status   string `db:"status" json:"status"`
}

func (c *Connection) Online() bool {
    return c != nil && c.Status == ConnectionOnline
}
