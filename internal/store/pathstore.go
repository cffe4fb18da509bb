package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgallion1/docreview/internal/pathstore"
)

const keyRoot = "docreview"

// PathStore keeps contracts, reviews and drafts in a pathstore instance.
//
// Key layout:
//
//	docreview/contracts/{id}/meta          contract
//	docreview/contracts/{id}/reviews/{rid} review index entry
//	docreview/reviews/{rid}                review
//	docreview/by_hash/{sha}/{id}           duplicate-upload index
//	docreview/drafts/{id}                  draft
type PathStore struct {
	client *pathstore.Client
	now    func() time.Time
}

var _ Store = (*PathStore)(nil)

// NewPathStore wraps a pathstore client.
func NewPathStore(client *pathstore.Client) *PathStore {
	return &PathStore{client: client, now: func() time.Time { return time.Now().UTC() }}
}

func contractKey(id string) string { return fmt.Sprintf("%s/contracts/%s", keyRoot, id) }
func contractMetaKey(id string) string { return contractKey(id) + "/meta" }
func contractReviewsKey(id string) string { return contractKey(id) + "/reviews" }
func reviewKey(id string) string { return fmt.Sprintf("%s/reviews/%s", keyRoot, id) }
func hashKey(sha string) string { return fmt.Sprintf("%s/by_hash/%s", keyRoot, sha) }
func draftKey(id string) string { return fmt.Sprintf("%s/drafts/%s", keyRoot, id) }

func (s *PathStore) Close() error {
	s.client.Close()
	return nil
}

func (s *PathStore) CreateContract(ctx context.Context, c *Contract) error {
	defaults(c, s.now())
	if err := s.client.Put(ctx, contractMetaKey(c.ID), c); err != nil {
		return fmt.Errorf("create contract: %w", err)
	}
	if c.ContentHash != "" {
		entry := map[string]any{"user_id": c.UserID, "created_at": c.CreatedAt.Format(time.RFC3339Nano)}
		if err := s.client.Put(ctx, hashKey(c.ContentHash)+"/"+c.ID, entry); err != nil {
			return fmt.Errorf("hash index: %w", err)
		}
	}
	return nil
}

func (s *PathStore) GetContract(ctx context.Context, id string) (*Contract, error) {
	node, err := s.client.GetNode(ctx, contractMetaKey(id))
	if err != nil {
		return nil, fmt.Errorf("get contract %s: %w", id, err)
	}
	if node == nil {
		return nil, ErrNotFound
	}
	var c Contract
	if err := node.Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PathStore) ListContracts(ctx context.Context, userID string) ([]Contract, error) {
	nodes, err := s.client.ListChildren(ctx, keyRoot+"/contracts", 0)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	contracts := []Contract{}
	for _, n := range nodes {
		if n.LastSegment() != "meta" {
			continue
		}
		var c Contract
		if err := n.Decode(&c); err != nil {
			return nil, err
		}
		if userID != "" && c.UserID != userID {
			continue
		}
		contracts = append(contracts, c)
	}
	sort.SliceStable(contracts, func(i, j int) bool {
		return contracts[i].CreatedAt.After(contracts[j].CreatedAt)
	})
	return contracts, nil
}

func (s *PathStore) UpdateContractStatus(ctx context.Context, id, status string) error {
	c, err := s.GetContract(ctx, id)
	if err != nil {
		return err
	}
	c.Status = status
	c.UpdatedAt = s.now()
	if err := s.client.Put(ctx, contractMetaKey(id), c); err != nil {
		return fmt.Errorf("update contract %s: %w", id, err)
	}
	return nil
}

func (s *PathStore) DeleteContract(ctx context.Context, id string) error {
	c, err := s.GetContract(ctx, id)
	if err != nil {
		return err
	}
	reviews, err := s.reviewIDs(ctx, id)
	if err != nil {
		return err
	}
	for _, rid := range reviews {
		if err := s.client.DeleteNode(ctx, reviewKey(rid), false); err != nil {
			return fmt.Errorf("delete review %s: %w", rid, err)
		}
	}
	if c.ContentHash != "" {
		if err := s.client.DeleteNode(ctx, hashKey(c.ContentHash)+"/"+id, false); err != nil {
			return fmt.Errorf("delete hash index: %w", err)
		}
	}
	if err := s.client.DeleteNode(ctx, contractKey(id), true); err != nil {
		return fmt.Errorf("delete contract %s: %w", id, err)
	}
	return nil
}

func (s *PathStore) FindByHash(ctx context.Context, userID, hash string) ([]string, error) {
	if userID == "" {
		userID = DefaultUserID
	}
	nodes, err := s.client.ListChildren(ctx, hashKey(hash), 0)
	if err != nil {
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	type hit struct {
		id string
		at string
	}
	var hits []hit
	for _, n := range nodes {
		var entry struct {
			UserID    string `json:"user_id"`
			CreatedAt string `json:"created_at"`
		}
		if err := n.Decode(&entry); err != nil {
			return nil, err
		}
		if entry.UserID != userID {
			continue
		}
		hits = append(hits, hit{id: n.LastSegment(), at: entry.CreatedAt})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].at < hits[j].at })
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

func (s *PathStore) CreateReview(ctx context.Context, r *Review) error {
	reviewDefaults(r, s.now())
	if err := s.client.Put(ctx, reviewKey(r.ID), r); err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	entry := map[string]any{"review_id": r.ID, "created_at": r.CreatedAt.Format(time.RFC3339Nano)}
	if err := s.client.Put(ctx, contractReviewsKey(r.ContractID)+"/"+r.ID, entry); err != nil {
		return fmt.Errorf("review index: %w", err)
	}
	return nil
}

func (s *PathStore) UpdateReview(ctx context.Context, r *Review) error {
	if _, err := s.GetReview(ctx, r.ID); err != nil {
		return err
	}
	if r.Issues == nil {
		r.Issues = Issues{}
	}
	if err := s.client.Put(ctx, reviewKey(r.ID), r); err != nil {
		return fmt.Errorf("update review %s: %w", r.ID, err)
	}
	return nil
}

func (s *PathStore) GetReview(ctx context.Context, id string) (*Review, error) {
	node, err := s.client.GetNode(ctx, reviewKey(id))
	if err != nil {
		return nil, fmt.Errorf("get review %s: %w", id, err)
	}
	if node == nil {
		return nil, ErrNotFound
	}
	var r Review
	if err := node.Decode(&r); err != nil {
		return nil, err
	}
	if r.Issues == nil {
		r.Issues = Issues{}
	}
	return &r, nil
}

func (s *PathStore) ListReviews(ctx context.Context, contractID string) ([]Review, error) {
	ids, err := s.reviewIDs(ctx, contractID)
	if err != nil {
		return nil, err
	}
	reviews := []Review{}
	for _, id := range ids {
		r, err := s.GetReview(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, *r)
	}
	sort.SliceStable(reviews, func(i, j int) bool {
		return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
	})
	return reviews, nil
}

func (s *PathStore) reviewIDs(ctx context.Context, contractID string) ([]string, error) {
	nodes, err := s.client.ListChildren(ctx, contractReviewsKey(contractID), 0)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if id := n.LastSegment(); id != "" && !strings.EqualFold(id, "reviews") {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *PathStore) CreateDraft(ctx context.Context, d *Draft) error {
	draftDefaults(d, s.now())
	if err := s.client.Put(ctx, draftKey(d.ID), d); err != nil {
		return fmt.Errorf("create draft: %w", err)
	}
	return nil
}

func (s *PathStore) GetDraft(ctx context.Context, id string) (*Draft, error) {
	node, err := s.client.GetNode(ctx, draftKey(id))
	if err != nil {
		return nil, fmt.Errorf("get draft %s: %w", id, err)
	}
	if node == nil {
		return nil, ErrNotFound
	}
	var d Draft
	if err := node.Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PathStore) ListDrafts(ctx context.Context, userID string) ([]Draft, error) {
	nodes, err := s.client.ListChildren(ctx, keyRoot+"/drafts", 0)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	drafts := []Draft{}
	for _, n := range nodes {
		var d Draft
		if err := n.Decode(&d); err != nil {
			return nil, err
		}
		if d.ID == "" || (userID != "" && d.UserID != userID) {
			continue
		}
		drafts = append(drafts, d)
	}
	sort.SliceStable(drafts, func(i, j int) bool {
		return drafts[i].CreatedAt.After(drafts[j].CreatedAt)
	})
	return drafts, nil
}

func (s *PathStore) UpdateDraft(ctx context.Context, d *Draft) error {
	if _, err := s.GetDraft(ctx, d.ID); err != nil {
		return err
	}
	d.UpdatedAt = s.now()
	if err := s.client.Put(ctx, draftKey(d.ID), d); err != nil {
		return fmt.Errorf("update draft %s: %w", d.ID, err)
	}
	return nil
}

func (s *PathStore) DeleteDraft(ctx context.Context, id string) error {
	if _, err := s.GetDraft(ctx, id); err != nil {
		return err
	}
	if err := s.client.DeleteNode(ctx, draftKey(id), false); err != nil {
		return fmt.Errorf("delete draft %s: %w", id, err)
	}
	return nil
}
