package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/mail"
	"github.com/prn-tf/quill/internal/repository"
)

var errStoreDown = errors.New("store down")

// =============================================================================
// Users
// =============================================================================

// MockUserRepository is an in-memory repository.UserRepository.
// Users are stored by value so callers cannot mutate stored state without Update.
type MockUserRepository struct {
	mu        sync.Mutex
	users     map[uuid.UUID]domain.User
	updateErr error
	updates   int
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[uuid.UUID]domain.User)}
}

func (m *MockUserRepository) conflict(u *domain.User) bool {
	for id, other := range m.users {
		if id != u.ID && (strings.EqualFold(other.Username, u.Username) || other.Email == u.Email) {
			return true
		}
	}
	return false
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflict(user) {
		return domain.ErrUserAlreadyExists
	}
	m.users[user.ID] = *user
	return nil
}

func (m *MockUserRepository) find(match func(*domain.User) bool) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		u := u
		if match(&u) {
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return strings.EqualFold(u.Username, username) })
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.Email == email })
}

func (m *MockUserRepository) GetByPasswordResetDigest(ctx context.Context, digest string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.PasswordReset != nil && u.PasswordReset.Digest == digest })
}

func (m *MockUserRepository) GetByVerificationDigest(ctx context.Context, digest string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool {
		return u.AccountVerification != nil && u.AccountVerification.Digest == digest
	})
}

func (m *MockUserRepository) Update(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.users[user.ID]; !ok {
		return domain.ErrUserNotFound
	}
	if m.conflict(user) {
		return domain.ErrUserAlreadyExists
	}
	m.updates++
	m.users[user.ID] = *user
	return nil
}

func (m *MockUserRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*domain.User
	for _, u := range m.users {
		u := u
		items = append(items, &u)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Username < items[j].Username })
	return &repository.ListResult[domain.User]{Items: items, Total: int64(len(items)), Offset: opts.Offset, Limit: opts.Limit}, nil
}

func (m *MockUserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := m.GetByUsername(ctx, username)
	return err == nil, nil
}

func (m *MockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := m.GetByEmail(ctx, email)
	return err == nil, nil
}

func (m *MockUserRepository) CountExpiredSecrets(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.users {
		u := u
		n += int64(u.ClearExpiredSecrets(now))
	}
	return n, nil
}

func (m *MockUserRepository) ClearExpiredSecrets(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows int64
	for id, u := range m.users {
		if u.ClearExpiredSecrets(now) > 0 {
			m.users[id] = u
			rows++
		}
	}
	return rows, nil
}

// put stores a user directly, bypassing validation.
func (m *MockUserRepository) put(u *domain.User) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = *u
	return u
}

// get returns a copy of the stored user.
func (m *MockUserRepository) get(id uuid.UUID) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	return &u
}

// =============================================================================
// Relationships
// =============================================================================

type edge struct{ from, to uuid.UUID }

// MockRelationshipRepository keeps each relation as a set of edges.
type MockRelationshipRepository struct {
	follows map[edge]bool
	blocks  map[edge]bool
	views   map[edge]bool
	err     error
}

func NewMockRelationshipRepository() *MockRelationshipRepository {
	return &MockRelationshipRepository{
		follows: make(map[edge]bool),
		blocks:  make(map[edge]bool),
		views:   make(map[edge]bool),
	}
}

func (m *MockRelationshipRepository) Follow(ctx context.Context, followerID, followeeID uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.follows[edge{followerID, followeeID}] = true
	return nil
}

func (m *MockRelationshipRepository) Unfollow(ctx context.Context, followerID, followeeID uuid.UUID) error {
	delete(m.follows, edge{followerID, followeeID})
	return nil
}

func (m *MockRelationshipRepository) Block(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	e := edge{blockerID, blockedID}
	if m.blocks[e] {
		return false, nil
	}
	m.blocks[e] = true
	return true, nil
}

func (m *MockRelationshipRepository) Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	e := edge{blockerID, blockedID}
	if !m.blocks[e] {
		return false, nil
	}
	delete(m.blocks, e)
	return true, nil
}

func (m *MockRelationshipRepository) RecordProfileView(ctx context.Context, subjectID, viewerID uuid.UUID) error {
	m.views[edge{viewerID, subjectID}] = true
	return nil
}

func (m *MockRelationshipRepository) BlockersOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []uuid.UUID
	for e := range m.blocks {
		if e.to == userID {
			out = append(out, e.from)
		}
	}
	return out, nil
}

func (m *MockRelationshipRepository) Relations(ctx context.Context, userID uuid.UUID) (*domain.Relations, error) {
	rel := &domain.Relations{
		Followers:      []uuid.UUID{},
		Following:      []uuid.UUID{},
		BlockedUsers:   []uuid.UUID{},
		ProfileViewers: []uuid.UUID{},
		Posts:          []uuid.UUID{},
		LikedPosts:     []uuid.UUID{},
	}
	for e := range m.follows {
		if e.from == userID {
			rel.Following = append(rel.Following, e.to)
		}
		if e.to == userID {
			rel.Followers = append(rel.Followers, e.from)
		}
	}
	for e := range m.blocks {
		if e.from == userID {
			rel.BlockedUsers = append(rel.BlockedUsers, e.to)
		}
	}
	for e := range m.views {
		if e.to == userID {
			rel.ProfileViewers = append(rel.ProfileViewers, e.from)
		}
	}
	return rel, nil
}

// =============================================================================
// Posts
// =============================================================================

// MockPostRepository stores posts and a single reaction per user and post.
type MockPostRepository struct {
	posts     map[uuid.UUID]domain.Post
	reactions map[uuid.UUID]map[uuid.UUID]domain.Reaction
	comments  *MockCommentRepository

	deleteReactionsErr error
}

func NewMockPostRepository(comments *MockCommentRepository) *MockPostRepository {
	return &MockPostRepository{
		posts:     make(map[uuid.UUID]domain.Post),
		reactions: make(map[uuid.UUID]map[uuid.UUID]domain.Reaction),
		comments:  comments,
	}
}

func (m *MockPostRepository) titleTaken(p *domain.Post) bool {
	for id, other := range m.posts {
		if id != p.ID && other.Title == p.Title {
			return true
		}
	}
	return false
}

func (m *MockPostRepository) Create(ctx context.Context, post *domain.Post) error {
	if m.titleTaken(post) {
		return domain.ErrPostTitleTaken
	}
	m.posts[post.ID] = *post
	return nil
}

func (m *MockPostRepository) load(p domain.Post) *domain.Post {
	p.Likes, p.Dislikes, p.Comments = []uuid.UUID{}, []uuid.UUID{}, []uuid.UUID{}
	for userID, r := range m.reactions[p.ID] {
		if r == domain.ReactionLike {
			p.Likes = append(p.Likes, userID)
		} else {
			p.Dislikes = append(p.Dislikes, userID)
		}
	}
	if m.comments != nil {
		for _, c := range m.comments.comments {
			if c.PostID == p.ID {
				p.Comments = append(p.Comments, c.ID)
			}
		}
	}
	return &p
}

func (m *MockPostRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	p, ok := m.posts[id]
	if !ok {
		return nil, domain.ErrPostNotFound
	}
	return m.load(p), nil
}

func (m *MockPostRepository) Update(ctx context.Context, post *domain.Post) error {
	if _, ok := m.posts[post.ID]; !ok {
		return domain.ErrPostNotFound
	}
	if m.titleTaken(post) {
		return domain.ErrPostTitleTaken
	}
	stored := *post
	stored.Likes, stored.Dislikes, stored.Comments = nil, nil, nil
	m.posts[post.ID] = stored
	return nil
}

func (m *MockPostRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.posts[id]; !ok {
		return domain.ErrPostNotFound
	}
	delete(m.posts, id)
	return nil
}

func (m *MockPostRepository) List(ctx context.Context, filter repository.PostFilter) (*repository.ListResult[domain.Post], error) {
	excluded := make(map[uuid.UUID]bool)
	for _, id := range filter.ExcludeAuthors {
		excluded[id] = true
	}

	var items []*domain.Post
	for _, p := range m.posts {
		switch {
		case excluded[p.AuthorID]:
			continue
		case !filter.VisibleAt.IsZero() && !p.IsVisibleAt(filter.VisibleAt):
			continue
		case filter.AuthorID != nil && p.AuthorID != *filter.AuthorID:
			continue
		case filter.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *filter.CategoryID):
			continue
		}
		items = append(items, m.load(p))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	total := int64(len(items))
	if filter.Offset < len(items) {
		items = items[filter.Offset:]
	} else {
		items = nil
	}
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return &repository.ListResult[domain.Post]{Items: items, Total: total, Offset: filter.Offset, Limit: filter.Limit}, nil
}

func (m *MockPostRepository) GetReaction(ctx context.Context, postID, userID uuid.UUID) (domain.Reaction, error) {
	return m.reactions[postID][userID], nil
}

func (m *MockPostRepository) SetReaction(ctx context.Context, postID, userID uuid.UUID, reaction domain.Reaction) error {
	if m.reactions[postID] == nil {
		m.reactions[postID] = make(map[uuid.UUID]domain.Reaction)
	}
	m.reactions[postID][userID] = reaction
	return nil
}

func (m *MockPostRepository) ClearReaction(ctx context.Context, postID, userID uuid.UUID) error {
	delete(m.reactions[postID], userID)
	return nil
}

func (m *MockPostRepository) DeleteReactions(ctx context.Context, postID uuid.UUID) (int64, error) {
	if m.deleteReactionsErr != nil {
		return 0, m.deleteReactionsErr
	}
	n := int64(len(m.reactions[postID]))
	delete(m.reactions, postID)
	return n, nil
}

func (m *MockPostRepository) IncrementClaps(ctx context.Context, id uuid.UUID) (int64, error) {
	p, ok := m.posts[id]
	if !ok {
		return 0, domain.ErrPostNotFound
	}
	p.Claps++
	m.posts[id] = p
	return p.Claps, nil
}

func (m *MockPostRepository) IncrementViews(ctx context.Context, id uuid.UUID) error {
	p, ok := m.posts[id]
	if !ok {
		return domain.ErrPostNotFound
	}
	p.PostViews++
	m.posts[id] = p
	return nil
}

func (m *MockPostRepository) ClearCategory(ctx context.Context, categoryID uuid.UUID) (int64, error) {
	var n int64
	for id, p := range m.posts {
		if p.CategoryID != nil && *p.CategoryID == categoryID {
			p.CategoryID = nil
			m.posts[id] = p
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Categories and comments
// =============================================================================

type MockCategoryRepository struct {
	categories map[uuid.UUID]domain.Category
	posts      *MockPostRepository
}

func NewMockCategoryRepository(posts *MockPostRepository) *MockCategoryRepository {
	return &MockCategoryRepository{categories: make(map[uuid.UUID]domain.Category), posts: posts}
}

func (m *MockCategoryRepository) nameTaken(c *domain.Category) bool {
	for id, other := range m.categories {
		if id != c.ID && strings.EqualFold(other.Name, c.Name) {
			return true
		}
	}
	return false
}

func (m *MockCategoryRepository) Create(ctx context.Context, c *domain.Category) error {
	if m.nameTaken(c) {
		return domain.ErrCategoryExists
	}
	m.categories[c.ID] = *c
	return nil
}

func (m *MockCategoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	c, ok := m.categories[id]
	if !ok {
		return nil, domain.ErrCategoryNotFound
	}
	c.Posts = []uuid.UUID{}
	if m.posts != nil {
		for _, p := range m.posts.posts {
			if p.CategoryID != nil && *p.CategoryID == id {
				c.Posts = append(c.Posts, p.ID)
			}
		}
	}
	return &c, nil
}

func (m *MockCategoryRepository) List(ctx context.Context) ([]*domain.Category, error) {
	var out []*domain.Category
	for _, c := range m.categories {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MockCategoryRepository) Update(ctx context.Context, c *domain.Category) error {
	if _, ok := m.categories[c.ID]; !ok {
		return domain.ErrCategoryNotFound
	}
	if m.nameTaken(c) {
		return domain.ErrCategoryExists
	}
	m.categories[c.ID] = *c
	return nil
}

func (m *MockCategoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.categories[id]; !ok {
		return domain.ErrCategoryNotFound
	}
	delete(m.categories, id)
	return nil
}

type MockCommentRepository struct {
	comments map[uuid.UUID]domain.Comment
}

func NewMockCommentRepository() *MockCommentRepository {
	return &MockCommentRepository{comments: make(map[uuid.UUID]domain.Comment)}
}

func (m *MockCommentRepository) Create(ctx context.Context, c *domain.Comment) error {
	m.comments[c.ID] = *c
	return nil
}

func (m *MockCommentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Comment, error) {
	c, ok := m.comments[id]
	if !ok {
		return nil, domain.ErrCommentNotFound
	}
	return &c, nil
}

func (m *MockCommentRepository) ListByPost(ctx context.Context, postID uuid.UUID) ([]*domain.Comment, error) {
	out := []*domain.Comment{}
	for _, c := range m.comments {
		c := c
		if c.PostID == postID {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockCommentRepository) Update(ctx context.Context, c *domain.Comment) error {
	if _, ok := m.comments[c.ID]; !ok {
		return domain.ErrCommentNotFound
	}
	m.comments[c.ID] = *c
	return nil
}

func (m *MockCommentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.comments[id]; !ok {
		return domain.ErrCommentNotFound
	}
	delete(m.comments, id)
	return nil
}

func (m *MockCommentRepository) DeleteByPost(ctx context.Context, postID uuid.UUID) (int64, error) {
	var n int64
	for id, c := range m.comments {
		if c.PostID == postID {
			delete(m.comments, id)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Infrastructure
// =============================================================================

// fakeTx runs fn inline and counts transactions.
type fakeTx struct {
	calls int
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

// MockSender is a testify mock of mail.Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg mail.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// fakeUploader stores nothing and returns a key derived from the file name.
type fakeUploader struct {
	err     error
	uploads int
}

func (f *fakeUploader) Upload(ctx context.Context, r io.Reader, filename string) (domain.Image, error) {
	if f.err != nil {
		return domain.Image{}, f.err
	}
	if _, err := io.ReadAll(r); err != nil {
		return domain.Image{}, err
	}
	f.uploads++
	return domain.Image{URL: "/images/" + filename, Key: filename}, nil
}

// Ensure the fakes implement their interfaces.
var (
	_ repository.UserRepository         = (*MockUserRepository)(nil)
	_ repository.RelationshipRepository = (*MockRelationshipRepository)(nil)
	_ repository.PostRepository         = (*MockPostRepository)(nil)
	_ repository.CategoryRepository     = (*MockCategoryRepository)(nil)
	_ repository.CommentRepository      = (*MockCommentRepository)(nil)
	_ repository.TxManager              = (*fakeTx)(nil)
	_ mail.Sender                       = (*MockSender)(nil)
	_ ImageUploader                     = (*fakeUploader)(nil)
)
