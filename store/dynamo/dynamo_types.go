package dynamo

import (
	"time"

	"github.com/zlnvch/layerlink/models"
)

const commentPKPrefix = "COMMENT#"

type dynamoComment struct {
	PK       string  `dynamodbav:"PK"`
	SK       string  `dynamodbav:"SK"`
	X        float64 `dynamodbav:"X"`
	Y        float64 `dynamodbav:"Y"`
	Text     string  `dynamodbav:"Text"`
	Author   string  `dynamodbav:"Author"`
	Created  int64   `dynamodbav:"Created"`
	Resolved bool    `dynamodbav:"Resolved"`
}

func commentPK(documentId string) string {
	return commentPKPrefix + documentId
}

// Map domain CommentRecord -> Dynamo
func commentRecordToDynamo(cr models.CommentRecord) dynamoComment {
	return dynamoComment{
		PK:       commentPK(cr.DocumentId),
		SK:       cr.Comment.Id,
		X:        cr.Comment.X,
		Y:        cr.Comment.Y,
		Text:     cr.Comment.Text,
		Author:   cr.Comment.Author,
		Created:  cr.Comment.Timestamp.UnixMilli(),
		Resolved: cr.Comment.Resolved,
	}
}

func commentFromDynamo(dc dynamoComment) models.Comment {
	return models.Comment{
		Id:        dc.SK,
		X:         dc.X,
		Y:         dc.Y,
		Text:      dc.Text,
		Author:    dc.Author,
		Timestamp: time.UnixMilli(dc.Created).UTC(),
		Resolved:  dc.Resolved,
	}
}
