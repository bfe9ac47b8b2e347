// Package permission resolves per-section view/edit/hidden capabilities.
//
// Stored rows are exceptions, not grants: a user without a row for a section
// has full edit access to it. Owners bypass the rows entirely.
package permission

import (
	"errors"
	"strings"
)

type Level string

const (
	LevelView   Level = "view"
	LevelEdit   Level = "edit"
	LevelHidden Level = "hidden"
)

var (
	ErrUnknownLevel   = errors.New("unknown permission level")
	ErrUnknownSection = errors.New("unknown section")
)

func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelView, LevelEdit, LevelHidden:
		return l, nil
	}
	return "", ErrUnknownLevel
}

func (l Level) CanView() bool  { return l == LevelView || l == LevelEdit }
func (l Level) CanEdit() bool  { return l == LevelEdit }
func (l Level) IsHidden() bool { return l == LevelHidden }

type Section string

const (
	SectionDashboard      Section = "dashboard"
	SectionOrders         Section = "orders"
	SectionNewOrder       Section = "new-order"
	SectionCouriers       Section = "couriers"
	SectionCompanies      Section = "companies"
	SectionOffices        Section = "offices"
	SectionProducts       Section = "products"
	SectionDeliveryPrices Section = "delivery-prices"
	SectionFinance        Section = "finance"
	SectionSettlements    Section = "settlements"
	SectionReports        Section = "reports"
	SectionUsers          Section = "users"
	SectionSettings       Section = "settings"
)

// Requirement is the coarse role gate a section applies before any
// per-user override is consulted.
type Requirement int

const (
	RequireAuthenticated Requirement = iota
	RequireOwnerOrAdmin
)

type SectionInfo struct {
	Key         Section
	Path        string
	Title       string
	Requirement Requirement
}

// catalogue is the closed set of navigable sections, in navigation order.
var catalogue = []SectionInfo{
	{Key: SectionDashboard, Path: "/", Title: "Dashboard"},
	{Key: SectionOrders, Path: "/orders", Title: "Orders"},
	{Key: SectionNewOrder, Path: "/new-order", Title: "New order"},
	{Key: SectionCouriers, Path: "/couriers", Title: "Couriers", Requirement: RequireOwnerOrAdmin},
	{Key: SectionCompanies, Path: "/companies", Title: "Companies"},
	{Key: SectionOffices, Path: "/offices", Title: "Offices"},
	{Key: SectionProducts, Path: "/products", Title: "Products"},
	{Key: SectionDeliveryPrices, Path: "/delivery-prices", Title: "Delivery prices"},
	{Key: SectionFinance, Path: "/finance", Title: "Finance", Requirement: RequireOwnerOrAdmin},
	{Key: SectionSettlements, Path: "/settlements", Title: "Settlements", Requirement: RequireOwnerOrAdmin},
	{Key: SectionReports, Path: "/reports", Title: "Reports"},
	{Key: SectionUsers, Path: "/users", Title: "Users", Requirement: RequireOwnerOrAdmin},
	{Key: SectionSettings, Path: "/settings", Title: "Settings", Requirement: RequireOwnerOrAdmin},
}

var catalogueIndex = func() map[Section]SectionInfo {
	m := make(map[Section]SectionInfo, len(catalogue))
	for _, info := range catalogue {
		m[info.Key] = info
	}
	return m
}()

// Sections returns the catalogue in navigation order.
func Sections() []SectionInfo {
	out := make([]SectionInfo, len(catalogue))
	copy(out, catalogue)
	return out
}

func ParseSection(s string) (Section, error) {
	if _, ok := catalogueIndex[Section(s)]; ok {
		return Section(s), nil
	}
	return "", ErrUnknownSection
}

// SectionFromPath maps a navigable path to its section key. The root path
// is the dashboard; any other path drops its leading slash. Query strings
// and trailing slashes are ignored.
func SectionFromPath(path string) (Section, bool) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return SectionDashboard, true
	}
	key := strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/")
	s, err := ParseSection(key)
	if err != nil || s == SectionDashboard {
		return "", false
	}
	return s, true
}

// Row is one stored override.
type Row struct {
	UserID  string  `json:"user_id"`
	Section Section `json:"section"`
	Level   Level   `json:"permission"`
}
