package repositories

import (
	"context"
	"fmt"
)

// LegacyResult counts the outcome of EncryptLegacy.
type LegacyResult struct {
	Encrypted int `json:"encrypted"`
	Failed    int `json:"failed"`
}

type legacyRow struct {
	ID   int    `db:"id"`
	Body string `db:"body_plain"`
}

// EncryptLegacy seals every non-empty plaintext body into an envelope and
// clears the plaintext column. Rows are processed in id order, batchSize per
// transaction. A body that fails to encrypt is counted and left as it is.
func (r *MessageRepo) EncryptLegacy(ctx context.Context, batchSize int) (LegacyResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var res LegacyResult
	after := 0
	for {
		n, last, err := r.encryptLegacyBatch(ctx, after, batchSize, &res)
		if err != nil {
			return res, err
		}
		if n < batchSize {
			return res, nil
		}
		after = last
	}
}

func (r *MessageRepo) encryptLegacyBatch(ctx context.Context, after, limit int, res *LegacyResult) (int, int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	var rows []legacyRow
	err = tx.SelectContext(ctx, &rows, `SELECT id, body_plain FROM messages
        WHERE id > $1 AND body_plain IS NOT NULL AND body_plain <> '' AND body_envelope IS NULL
        ORDER BY id LIMIT $2 FOR UPDATE`, after, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("select plaintext messages: %w", err)
	}
	if len(rows) == 0 {
		return 0, after, nil
	}

	encrypted := 0
	for _, row := range rows {
		envelope, err := sealBody(r.codec, row.Body)
		if err != nil {
			r.log.Error().Err(err).Int("message_id", row.ID).Msg("legacy message not encrypted")
			res.Failed++
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET body_envelope = $1, body_plain = NULL WHERE id = $2`, envelope, row.ID); err != nil {
			return 0, 0, fmt.Errorf("update message %d: %w", row.ID, err)
		}
		encrypted++
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	res.Encrypted += encrypted
	return len(rows), rows[len(rows)-1].ID, nil
}
