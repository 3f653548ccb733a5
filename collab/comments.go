package collab

import (
	"time"
)

// element-scoped discussion item. Replies are carried on the wire but the
// core never populates them itself.
type Comment struct {
	CommentId  Id         `json:"comment_id"`
	ElementId  string     `json:"element_id"`
	UserId     Id         `json:"user_id"`
	Text       string     `json:"text"`
	Position   Position   `json:"position"`
	CreateTime time.Time  `json:"created_at"`
	UpdateTime time.Time  `json:"updated_at"`
	Replies    []*Comment `json:"replies"`
}

func (self *Comment) copy() *Comment {
	commentCopy := *self
	if self.Replies != nil {
		replies := make([]*Comment, 0, len(self.Replies))
		for _, reply := range self.Replies {
			replies = append(replies, reply.copy())
		}
		commentCopy.Replies = replies
	}
	return &commentCopy
}

// per-element insertion-ordered comment lists.
// any collaborator may edit or delete any comment. Update/delete of an
// unknown id is a no-op, not an error.
// Not safe for concurrent use; the event processor owns all mutation.
type CommentStore struct {
	// element id -> ordered comments
	comments map[string][]*Comment
}

func NewCommentStore() *CommentStore {
	return &CommentStore{
		comments: map[string][]*Comment{},
	}
}

func (self *CommentStore) Add(elementId string, userId Id, text string, position Position, eventTime time.Time) *Comment {
	comment := &Comment{
		CommentId:  NewId(),
		ElementId:  elementId,
		UserId:     userId,
		Text:       text,
		Position:   position,
		CreateTime: eventTime,
		UpdateTime: eventTime,
		Replies:    []*Comment{},
	}
	self.comments[elementId] = append(self.comments[elementId], comment)
	return comment.copy()
}

// locates by id across all elements. Returns nil if the id does not exist.
func (self *CommentStore) Update(commentId Id, text string, eventTime time.Time) *Comment {
	for _, elementComments := range self.comments {
		for _, comment := range elementComments {
			if comment.CommentId == commentId {
				comment.Text = text
				comment.UpdateTime = eventTime
				return comment.copy()
			}
		}
	}
	return nil
}

func (self *CommentStore) Delete(commentId Id) bool {
	for elementId, elementComments := range self.comments {
		for i, comment := range elementComments {
			if comment.CommentId == commentId {
				self.comments[elementId] = append(elementComments[:i:i], elementComments[i+1:]...)
				return true
			}
		}
	}
	return false
}

func (self *CommentStore) List(elementId string) []*Comment {
	elementComments := self.comments[elementId]
	listed := make([]*Comment, 0, len(elementComments))
	for _, comment := range elementComments {
		listed = append(listed, comment.copy())
	}
	return listed
}

func (self *CommentStore) snapshot() map[string][]*Comment {
	comments := map[string][]*Comment{}
	for elementId, elementComments := range self.comments {
		listed := make([]*Comment, 0, len(elementComments))
		for _, comment := range elementComments {
			listed = append(listed, comment.copy())
		}
		comments[elementId] = listed
	}
	return comments
}
