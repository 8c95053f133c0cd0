package backend

import (
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

// CheckpointSuffix is appended to a namespace to name its checkpoint
// structure.
const CheckpointSuffix = "_ts"

func CheckpointName(namespace string) string {
	return namespace + CheckpointSuffix
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks that name can be used unquoted as a table name.
func ValidateIdentifier(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("%w: %q is not a valid identifier", constants.ErrInvalidNamespace, name)
	}
	return nil
}

// SplitNamespace splits a "database.collection" namespace. The collection may
// itself contain dots.
func SplitNamespace(namespace string) (db, coll string, err error) {
	db, coll, ok := strings.Cut(namespace, ".")
	if !ok || db == "" || coll == "" {
		return "", "", fmt.Errorf("%w: %q must have the form database.collection", constants.ErrInvalidNamespace, namespace)
	}
	return db, coll, nil
}

// NormalizeDocument returns a copy of ev whose payload carries
// models.LastModifiedField as a time.Time, including inside the $set of an
// update. Backends call it from their Normalize.
func NormalizeDocument(ev *models.ChangeEvent) (*models.ChangeEvent, error) {
	out := *ev
	payload, err := models.NormalizeLastModified(ev.Payload)
	if err != nil {
		return nil, err
	}

	if set, ok := payload[models.OperatorSet].(map[string]any); ok && ev.Operation == models.OpUpdate {
		normalized, err := models.NormalizeLastModified(set)
		if err != nil {
			return nil, err
		}
		payload = maps.Clone(payload)
		payload[models.OperatorSet] = normalized
	}

	out.Payload = payload
	return &out, nil
}
