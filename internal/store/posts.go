package store

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/alsseok01/babsang/internal/models"
)

type PostInput struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	Address   string   `json:"address"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for _, t := range tags {
		t = normalizeTag(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func validatePost(in PostInput) (PostInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Address = strings.TrimSpace(in.Address)
	if in.Title == "" {
		return in, fmt.Errorf("title is required: %w", ErrInvalid)
	}
	if strings.TrimSpace(in.Content) == "" {
		return in, fmt.Errorf("content is required: %w", ErrInvalid)
	}
	in.Tags = cleanTags(in.Tags)
	return in, nil
}

// postIndexLocked returns the slice index of id or -1.
func (s *Store) postIndexLocked(id string) int {
	for i, p := range s.posts {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// ListPosts filters by tag and orders "popular" by likes then views, otherwise newest first.
func (s *Store) ListPosts(tag, order string) []models.Post {
	tag = normalizeTag(strings.TrimPrefix(tag, "#"))

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if tag != "" && !containsString(p.Tags, tag) {
			continue
		}
		out = append(out, s.decoratePostLocked(p))
	}
	if order == "popular" || order == "hot" {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Likes != out[j].Likes {
				return out[i].Likes > out[j].Likes
			}
			return out[i].Views > out[j].Views
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt) })
	}
	return out
}

func (s *Store) CreatePost(uid string, in PostInput) (models.Post, error) {
	in, err := validatePost(in)
	if err != nil {
		return models.Post{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[uid]; !ok {
		return models.Post{}, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	now := s.nowISO()
	p := models.Post{
		ID:             s.newID(),
		Author:         models.UserSummary{ID: uid},
		Title:          in.Title,
		Content:        in.Content,
		Tags:           in.Tags,
		LikedMemberIDs: []string{},
		Comments:       []models.Comment{},
		Address:        in.Address,
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.posts = append([]models.Post{p}, s.posts...)
	s.dirty = true
	return s.decoratePostLocked(p), nil
}

func (s *Store) GetPost(id string) (models.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.postIndexLocked(id)
	if i < 0 {
		return models.Post{}, false
	}
	return s.decoratePostLocked(s.posts[i]), true
}

func (s *Store) UpdatePost(uid, id string, in PostInput) (models.Post, error) {
	in, err := validatePost(in)
	if err != nil {
		return models.Post{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.postIndexLocked(id)
	if i < 0 {
		return models.Post{}, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	p := s.posts[i]
	if p.Author.ID != uid {
		return models.Post{}, fmt.Errorf("post %s: %w", id, ErrForbidden)
	}
	p.Title, p.Content, p.Tags = in.Title, in.Content, in.Tags
	p.Address, p.Latitude, p.Longitude = in.Address, in.Latitude, in.Longitude
	p.UpdatedAt = s.nowISO()
	s.posts[i] = p
	s.dirty = true
	return s.decoratePostLocked(p), nil
}

func (s *Store) DeletePost(uid, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.postIndexLocked(id)
	if i < 0 {
		return fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	if s.posts[i].Author.ID != uid {
		return fmt.Errorf("post %s: %w", id, ErrForbidden)
	}
	s.posts = append(s.posts[:i], s.posts[i+1:]...)
	s.dirty = true
	return nil
}

func (s *Store) IncrementViews(id string) (models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.postIndexLocked(id)
	if i < 0 {
		return models.Post{}, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	s.posts[i].Views++
	s.dirty = true
	return s.decoratePostLocked(s.posts[i]), nil
}

// ToggleLike flips uid's like and reports whether the post is now liked.
func (s *Store) ToggleLike(uid, id string) (models.Post, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.postIndexLocked(id)
	if i < 0 {
		return models.Post{}, false, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	p := s.posts[i]
	liked := false
	if containsString(p.LikedMemberIDs, uid) {
		kept := make([]string, 0, len(p.LikedMemberIDs))
		for _, m := range p.LikedMemberIDs {
			if m != uid {
				kept = append(kept, m)
			}
		}
		p.LikedMemberIDs = kept
	} else {
		p.LikedMemberIDs = append(p.LikedMemberIDs, uid)
		liked = true
	}
	p.Likes = len(p.LikedMemberIDs)
	s.posts[i] = p
	s.dirty = true
	return s.decoratePostLocked(p), liked, nil
}

// ===== comments =====

func (s *Store) AddComment(uid, postID, content, parentID string) (models.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return models.Comment{}, fmt.Errorf("content is required: %w", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.postIndexLocked(postID)
	if i < 0 {
		return models.Comment{}, fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	p := s.posts[i]
	if parentID != "" {
		found := false
		for _, c := range p.Comments {
			if c.ID == parentID {
				found = true
				break
			}
		}
		if !found {
			return models.Comment{}, fmt.Errorf("parent comment %s: %w", parentID, ErrNotFound)
		}
	}
	c := models.Comment{
		ID:        s.newID(),
		PostID:    postID,
		ParentID:  parentID,
		Author:    models.UserSummary{ID: uid},
		Content:   strings.TrimSpace(content),
		CreatedAt: s.nowISO(),
	}
	p.Comments = append(p.Comments, c)
	s.posts[i] = p
	s.dirty = true
	c.Author = s.summaryLocked(uid)
	return c, nil
}

func (s *Store) UpdateComment(uid, postID, commentID, content string) (models.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return models.Comment{}, fmt.Errorf("content is required: %w", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.postIndexLocked(postID)
	if i < 0 {
		return models.Comment{}, fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	for j, c := range s.posts[i].Comments {
		if c.ID != commentID {
			continue
		}
		if c.Author.ID != uid {
			return models.Comment{}, fmt.Errorf("comment %s: %w", commentID, ErrForbidden)
		}
		c.Content = strings.TrimSpace(content)
		// copy on write: snapshots may still hold the old slice
		comments := slices.Clone(s.posts[i].Comments)
		comments[j] = c
		s.posts[i].Comments = comments
		s.dirty = true
		c.Author = s.summaryLocked(uid)
		return c, nil
	}
	return models.Comment{}, fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
}

// DeleteComment removes the comment together with every reply beneath it.
func (s *Store) DeleteComment(uid, postID, commentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.postIndexLocked(postID)
	if i < 0 {
		return fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	p := s.posts[i]
	var target *models.Comment
	for j := range p.Comments {
		if p.Comments[j].ID == commentID {
			target = &p.Comments[j]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}
	if target.Author.ID != uid {
		return fmt.Errorf("comment %s: %w", commentID, ErrForbidden)
	}

	doomed := map[string]struct{}{commentID: {}}
	for grew := true; grew; {
		grew = false
		for _, c := range p.Comments {
			if _, gone := doomed[c.ID]; gone {
				continue
			}
			if _, parentGone := doomed[c.ParentID]; c.ParentID != "" && parentGone {
				doomed[c.ID] = struct{}{}
				grew = true
			}
		}
	}
	kept := make([]models.Comment, 0, len(p.Comments))
	for _, c := range p.Comments {
		if _, gone := doomed[c.ID]; !gone {
			kept = append(kept, c)
		}
	}
	p.Comments = kept
	s.posts[i] = p
	s.dirty = true
	return nil
}

// ===== recommendations =====

// Recommendations ranks place posts by popularity, boosted by tags matching uid's preferences.
func (s *Store) Recommendations(uid string, limit int) []models.Recommendation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefs := map[string]struct{}{}
	if u, ok := s.users[uid]; ok {
		for k, on := range u.Preferences {
			if on {
				prefs[normalizeTag(k)] = struct{}{}
			}
		}
	}
	out := make([]models.Recommendation, 0)
	for _, p := range s.posts {
		if !p.HasPlace() {
			continue
		}
		score := len(p.LikedMemberIDs)*2 + p.Views
		for _, t := range p.Tags {
			if _, ok := prefs[t]; ok {
				score += 5
			}
		}
		out = append(out, models.Recommendation{
			ID:        p.ID,
			Title:     p.Title,
			Address:   p.Address,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Author:    s.summaryLocked(p.Author.ID),
			Likes:     len(p.LikedMemberIDs),
			Views:     p.Views,
			Score:     score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
