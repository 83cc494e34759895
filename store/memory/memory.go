// Package memory implements the comment archive in process memory. It is
// used in dev mode and in tests; everything is lost on restart.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-memdb"
	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/store"
)

const tblComments = "comments"

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblComments: {
			Name: tblComments,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "DocumentId"},
							&memdb.StringFieldIndex{Field: "Id"},
						},
					},
				},
				"document_id": {
					Name:    "document_id",
					Indexer: &memdb.StringFieldIndex{Field: "DocumentId"},
				},
			},
		},
	},
}

// commentRow is immutable once inserted; updates insert a new row.
type commentRow struct {
	DocumentId string
	Id         string
	Comment    models.Comment
}

type MemoryLayerlinkStore struct {
	db *memdb.MemDB
}

func NewMemoryLayerlinkStore() (*MemoryLayerlinkStore, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &MemoryLayerlinkStore{db: db}, nil
}

func (m *MemoryLayerlinkStore) GetComments(_ context.Context, documentId string) ([]models.Comment, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblComments, "document_id", documentId)
	if err != nil {
		return nil, fmt.Errorf("find comments of %s: %w", documentId, err)
	}

	comments := []models.Comment{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		comments = append(comments, raw.(*commentRow).Comment)
	}
	slices.SortFunc(comments, func(a, b models.Comment) int {
		return strings.Compare(a.Id, b.Id)
	})
	return comments, nil
}

// WriteCommentBatch inserts comments that are not stored yet. A stored
// comment is never rewritten; only a resolve carried by the record is applied.
func (m *MemoryLayerlinkStore) WriteCommentBatch(_ context.Context, comments []models.CommentRecord) ([]models.CommentRecord, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	for _, record := range comments {
		raw, err := txn.First(tblComments, "id", record.DocumentId, record.Comment.Id)
		if err != nil {
			return comments, fmt.Errorf("find comment %s: %w", record.Comment.Id, err)
		}

		var row *commentRow
		switch {
		case raw == nil:
			row = &commentRow{
				DocumentId: record.DocumentId,
				Id:         record.Comment.Id,
				Comment:    record.Comment,
			}
		case record.Comment.Resolved && !raw.(*commentRow).Comment.Resolved:
			resolved := *raw.(*commentRow)
			resolved.Comment.Resolved = true
			row = &resolved
		default:
			continue
		}

		if err := txn.Insert(tblComments, row); err != nil {
			return comments, fmt.Errorf("insert comment %s: %w", record.Comment.Id, err)
		}
	}

	txn.Commit()
	return nil, nil
}

func (m *MemoryLayerlinkStore) ResolveComment(_ context.Context, documentId string, commentId string) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblComments, "id", documentId, commentId)
	if err != nil {
		return fmt.Errorf("find comment %s: %w", commentId, err)
	}
	if raw == nil {
		return fmt.Errorf("resolve comment %s: %w", commentId, store.ErrItemNotFound)
	}

	row := *raw.(*commentRow)
	row.Comment.Resolved = true
	if err := txn.Insert(tblComments, &row); err != nil {
		return fmt.Errorf("update comment %s: %w", commentId, err)
	}

	txn.Commit()
	return nil
}
