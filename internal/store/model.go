package store

import "time"

// Transaction is a raw protocol transaction as pulled off the chain, kept
// verbatim so verification and decoding can be replayed at any time.
type Transaction struct {
	ID          string // action data id, unique per action
	BlockNum    int64
	DataType    string
	Data        string // full action payload, verbatim JSON
	TrxID       string
	Signature   string
	Hash        string
	UserAddress string
	Processed   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// User tracks the latest publishing permission of an address within a topic.
type User struct {
	UserAddress string
	Status      string // "allow" or "deny"
	TxID        string // transaction that set the current status
	Topic       string
	UpdatedAt   time.Time
}

const (
	UserStatusAllow = "allow"
	UserStatusDeny  = "deny"
)

// Post is one published piece of content, keyed by the transaction that
// announced it. Content itself lives in Content once fetched and verified.
type Post struct {
	PublishTxID string
	UserAddress string
	UpdatedTxID string // transaction this post supersedes, empty for originals
	FileHash    string
	HashAlg     string
	Topic       string
	URL         string
	Encryption  string // scheme tag, empty for plaintext
	Fetched     bool
	Verified    bool
	Deleted     bool
	UpdatedAt   time.Time
}

// Content is the fetched and hash-verified body of a post.
type Content struct {
	FileHash  string
	URL       string
	Content   string
	Deleted   bool
	CreatedAt time.Time
}

// Notify is one pending or delivered webhook notification for a publish.
type Notify struct {
	DataID    string
	TrxID     string
	BlockNum  int64
	Topic     string
	Success   bool
	Retries   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Block is a chain block persisted during bulk catch-up. BlockType records
// whether the block carried any protocol actions.
type Block struct {
	BlockID   string
	BlockNum  int64
	BlockType string
	Timestamp string
}

const (
	BlockTypeEmpty = "EMPTY"
	BlockTypeData  = "DATA"
)
