package clients

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/router-for-me/EnterpriseAccess/internal/settings"
	"golang.org/x/sync/singleflight"
)

const (
	adminCacheSize = 1024
	maxAdminPages  = 50
)

// AdminUser is an enterprise administrator learners can contact.
type AdminUser struct {
	Email     string `json:"email"`
	LMSUserID int64  `json:"lms_user_id,omitempty"`
}

type adminCacheEntry struct {
	admins   []AdminUser
	storedAt time.Time
}

// LMSClient reads enterprise membership from the LMS directory.
type LMSClient struct {
	http   *jsonClient
	cache  *lru.Cache[uuid.UUID, adminCacheEntry]
	group  singleflight.Group
	now    func() time.Time
	mu     sync.Mutex
	hits   int
	misses int
}

// NewLMSClient constructs an LMSClient with an admin contact cache.
func NewLMSClient(opts Options) (*LMSClient, error) {
	c, err := newJSONClient("lms", opts)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[uuid.UUID, adminCacheEntry](adminCacheSize)
	if err != nil {
		return nil, err
	}
	return &LMSClient{http: c, cache: cache, now: time.Now}, nil
}

type adminPageDTO struct {
	Next    *string     `json:"next"`
	Results []AdminUser `json:"results"`
}

// GetEnterpriseAdminUsers returns the enterprise's administrators. Results are
// cached for ADMIN_CONTACT_CACHE_TTL_SECONDS and concurrent misses share one fetch.
func (c *LMSClient) GetEnterpriseAdminUsers(ctx context.Context, enterpriseUUID uuid.UUID) ([]AdminUser, error) {
	ttl := settings.Seconds(settings.AdminContactCacheTTLSecondsKey, settings.DefaultAdminContactCacheTTLSeconds)
	if entry, ok := c.cache.Get(enterpriseUUID); ok && c.now().Sub(entry.storedAt) < ttl {
		c.count(true)
		return entry.admins, nil
	}
	c.count(false)

	v, err, _ := c.group.Do(enterpriseUUID.String(), func() (any, error) {
		admins, errFetch := c.fetchAdmins(ctx, enterpriseUUID)
		if errFetch != nil {
			return nil, errFetch
		}
		c.cache.Add(enterpriseUUID, adminCacheEntry{admins: admins, storedAt: c.now()})
		return admins, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]AdminUser), nil
}

func (c *LMSClient) fetchAdmins(ctx context.Context, enterpriseUUID uuid.UUID) ([]AdminUser, error) {
	path := "/enterprise/api/v1/enterprise-customer/" + enterpriseUUID.String() + "/admins/"
	admins := make([]AdminUser, 0)
	for page := 1; page <= maxAdminPages; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		var dto adminPageDTO
		if err := c.http.do(ctx, http.MethodGet, path, query, nil, &dto); err != nil {
			return nil, err
		}
		admins = append(admins, dto.Results...)
		if dto.Next == nil || *dto.Next == "" {
			break
		}
	}
	return admins, nil
}

// EnterpriseContainsLearner reports whether the learner is linked to the enterprise.
func (c *LMSClient) EnterpriseContainsLearner(ctx context.Context, enterpriseUUID uuid.UUID, lmsUserID int64) (bool, error) {
	query := url.Values{}
	query.Set("enterprise_customer_uuid", enterpriseUUID.String())
	query.Set("user_id", strconv.FormatInt(lmsUserID, 10))
	var out struct {
		Count int `json:"count"`
	}
	if err := c.http.do(ctx, http.MethodGet, "/enterprise/api/v1/enterprise-learner/", query, nil, &out); err != nil {
		return false, err
	}
	return out.Count > 0, nil
}

// CacheStats returns admin cache hit and miss counts.
func (c *LMSClient) CacheStats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *LMSClient) count(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
		return
	}
	c.misses++
}
