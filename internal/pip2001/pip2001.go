// Package pip2001 decodes PIP:2001 publish and publish-management payloads
// carried by chain transactions. Decoding is the single boundary where the
// untyped JSON shape of the protocol is checked; everything downstream works
// with the typed Message variants.
package pip2001

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pressone/atom/internal/verifier"
)

// DataType is the protocol tag carried by transactions this indexer handles.
const DataType = "PIP:2001"

var (
	ErrDecode       = errors.New("failed to decode PIP:2001 payload")
	ErrURIsNotAList = errors.New("meta.uris must be a list of urls")
)

// ActionData is the protocol-shaped action payload of one chain
// transaction. Meta and Data hold nested JSON documents encoded as strings.
type ActionData struct {
	ID          string `json:"id"`
	UserAddress string `json:"user_address"`
	Type        string `json:"type"`
	Meta        string `json:"meta"`
	Data        string `json:"data"`
	Hash        string `json:"hash"`
	Signature   string `json:"signature"`
}

// Encryption returns the encryption scheme tag declared in meta, or the
// empty string for plaintext posts.
func (a *ActionData) Encryption() string {
	var meta map[string]interface{}
	if err := json.Unmarshal([]byte(a.Meta), &meta); err != nil {
		return ""
	}
	enc, _ := meta["encryption"].(string)
	return enc
}

// Message is the decoded form of an ActionData payload: Publish,
// PublishManagement or Unsupported.
type Message interface {
	isMessage()
}

// Publish announces externally hosted content addressed by FileHash.
type Publish struct {
	FileHash    string
	HashAlg     string
	Topic       string
	URI         string
	UpdatedTxID string
}

// PublishManagement grants or revokes publishing rights for a user list.
type PublishManagement struct {
	Action string // "allow" or "deny"
	Users  []string
	Topic  string
}

// Unsupported marks a structurally valid payload of a kind this indexer
// does not process.
type Unsupported struct{}

func (Publish) isMessage()           {}
func (PublishManagement) isMessage() {}
func (Unsupported) isMessage()       {}

// Decode interprets the action payload as one of the protocol messages.
// It is pure; any structural defect yields ErrDecode.
func Decode(a *ActionData) (Message, error) {
	var meta, data map[string]interface{}
	if err := json.Unmarshal([]byte(a.Meta), &meta); err != nil {
		return nil, errors.Join(ErrDecode, fmt.Errorf("meta: %w", err))
	}
	if err := json.Unmarshal([]byte(a.Data), &data); err != nil {
		return nil, errors.Join(ErrDecode, fmt.Errorf("data: %w", err))
	}

	if fileHash, ok := data["file_hash"].(string); ok {
		return decodePublish(fileHash, meta, data)
	}

	for _, action := range []string{"allow", "deny"} {
		users, ok := data[action].(string)
		if !ok {
			continue
		}
		topic, _ := data["topic"].(string)
		return PublishManagement{
			Action: action,
			Users:  splitUsers(users),
			Topic:  topic,
		}, nil
	}

	return Unsupported{}, nil
}

func decodePublish(fileHash string, meta, data map[string]interface{}) (Message, error) {
	uri, err := firstURI(meta)
	if err != nil {
		return nil, err
	}

	// hash_alg moved from data.alg to meta.hash_alg over protocol versions
	hashAlg := verifier.AlgKeccak256
	if alg, ok := meta["hash_alg"].(string); ok && alg != "" {
		hashAlg = alg
	} else if alg, ok := data["alg"].(string); ok && alg != "" {
		hashAlg = alg
	}

	topic, _ := data["topic"].(string)
	updatedTxID, _ := data["updated_tx_id"].(string)

	return Publish{
		FileHash:    fileHash,
		HashAlg:     hashAlg,
		Topic:       topic,
		URI:         uri,
		UpdatedTxID: updatedTxID,
	}, nil
}

func firstURI(meta map[string]interface{}) (string, error) {
	raw, ok := meta["uris"]
	if !ok {
		return "", errors.Join(ErrDecode, errors.New("meta.uris is missing"))
	}

	uris, ok := raw.([]interface{})
	if !ok {
		return "", errors.Join(ErrDecode, ErrURIsNotAList)
	}
	if len(uris) == 0 {
		return "", errors.Join(ErrDecode, errors.New("meta.uris is empty"))
	}

	uri, ok := uris[0].(string)
	if !ok {
		return "", errors.Join(ErrDecode, ErrURIsNotAList)
	}

	return uri, nil
}

func splitUsers(list string) []string {
	var users []string
	for _, u := range strings.Split(list, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	return users
}
