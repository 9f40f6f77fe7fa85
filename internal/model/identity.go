// internal/model/identity.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Transport kinds for a sender identity.
const (
	KindMailbox = "mailbox"
	KindRelay   = "relay"
)

type SenderIdentity struct {
	ID          int         `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	Kind        string      `db:"kind" json:"kind"`
	Credentials Credentials `db:"credentials" json:"credentials"`
	DailyCap    int         `db:"daily_cap" json:"daily_cap"`
	CampaignCap int         `db:"campaign_cap" json:"campaign_cap"`
	Priority    int         `db:"priority" json:"priority"`
	Enabled     bool        `db:"enabled" json:"enabled"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time  `db:"updated_at" json:"updated_at,omitempty"`
}

// MailboxCredential authenticates a plain mailbox with an app-scoped secret.
type MailboxCredential struct {
	Address   string `json:"address"`
	AppSecret string `json:"app_secret"`
}

// RelayCredential authenticates against a generic SMTP relay.
type RelayCredential struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	Username    string `json:"username"`
	Secret      string `json:"secret"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
}

// Credentials is the tagged credential payload: exactly one case is set,
// matching the identity's Kind.
type Credentials struct {
	Mailbox *MailboxCredential `json:"mailbox,omitempty"`
	Relay   *RelayCredential   `json:"relay,omitempty"`
}

func (c Credentials) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *Credentials) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	case nil:
		*c = Credentials{}
		return nil
	}
	return fmt.Errorf("credentials: cannot scan %T", src)
}

// FromAddress returns the address outgoing mail is sent from.
func (i *SenderIdentity) FromAddress() string {
	switch i.Kind {
	case KindMailbox:
		if i.Credentials.Mailbox != nil {
			return i.Credentials.Mailbox.Address
		}
	case KindRelay:
		if i.Credentials.Relay != nil {
			return i.Credentials.Relay.FromAddress
		}
	}
	return ""
}

type UsageCounter struct {
	IdentityID int    `db:"identity_id" json:"identity_id"`
	DateKey    string `db:"date_key" json:"date_key"`
	Count      int    `db:"count" json:"count"`
}

// DateKey returns the UTC calendar date used for daily-cap accounting.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
