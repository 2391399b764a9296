// Package models holds the GORM entities shared across trackimmo: cities,
// clients, persisted property sales, energy certificates, assignments and
// background jobs.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PropertyType is the closed enum of property categories the pipeline
// understands. Unknown scraped codes map to PropertyTypeOther rather than
// being dropped (spec boundary behaviour).
type PropertyType string

const (
	PropertyTypeHouse      PropertyType = "house"
	PropertyTypeApartment  PropertyType = "apartment"
	PropertyTypeLand       PropertyType = "land"
	PropertyTypeCommercial PropertyType = "commercial"
	PropertyTypeOther      PropertyType = "other"
)

// ClientStatus mirrors spec.md's Client.status enum.
type ClientStatus string

const (
	ClientStatusActive   ClientStatus = "active"
	ClientStatusInactive ClientStatus = "inactive"
	ClientStatusTest     ClientStatus = "test"
	ClientStatusPending  ClientStatus = "pending"
)

// ClientAddressStatus mirrors spec.md's ClientAddress.status enum.
type ClientAddressStatus string

const (
	CAStatusNew          ClientAddressStatus = "new"
	CAStatusContacted    ClientAddressStatus = "contacted"
	CAStatusMeeting      ClientAddressStatus = "meeting"
	CAStatusNegotiation  ClientAddressStatus = "negotiation"
	CAStatusSold         ClientAddressStatus = "sold"
	CAStatusMandate      ClientAddressStatus = "mandate"
)

// JobStatus mirrors spec.md's Job.status enum / state machine.
type JobStatus string

const (
	JobStatusPending         JobStatus = "pending"
	JobStatusProcessing      JobStatus = "processing"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusFailed          JobStatus = "failed"
	JobStatusFailedPermanent JobStatus = "failed_permanent"
)

// City is one row per municipality. INSEE code is unique and immutable.
type City struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name                string    `gorm:"not null" json:"name"`
	PostalCode          string    `gorm:"size:5;not null" json:"postal_code"`
	InseeCode           string    `gorm:"size:5;uniqueIndex;not null" json:"insee_code"`
	Department          string    `gorm:"size:3;not null" json:"department"`
	Region              string    `json:"region"`
	AvgHousePrice       int       `json:"avg_house_price"`
	AvgApartmentPrice   int       `json:"avg_apartment_price"`
	LastScraped         *time.Time `json:"last_scraped"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (City) TableName() string { return "cities" }

// IsStale reports whether the city row needs a Stage 5 / pre-scrape refresh
// (last_scraped older than one year, or never scraped).
func (c *City) IsStale(now time.Time) bool {
	if c.LastScraped == nil {
		return true
	}
	return now.Sub(*c.LastScraped) > 365*24*time.Hour
}

// Client is the consumer of assignments.
type Client struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	FirstName         string         `json:"first_name"`
	LastName          string         `json:"last_name"`
	Email             string         `gorm:"not null" json:"email"`
	CCEmails          pq.StringArray `gorm:"type:text[]" json:"cc_emails"`
	Status            ClientStatus   `gorm:"size:20;not null;default:pending" json:"status"`
	ChosenCities       []uuid.UUID    `gorm:"-" json:"chosen_cities"`
	PropertyTypePrefs  []PropertyType `gorm:"-" json:"property_type_preferences"`
	AddressesPerReport int            `gorm:"default:10" json:"addresses_per_report"`
	SendDay            int            `gorm:"not null" json:"send_day"` // 1-31
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (Client) TableName() string { return "clients" }

// ClientCity is the join table backing Client.ChosenCities (many-to-many,
// persisted separately since the other fields carry no metadata).
type ClientCity struct {
	ClientID uuid.UUID `gorm:"type:uuid;primaryKey"`
	CityID   uuid.UUID `gorm:"type:uuid;primaryKey"`
}

func (ClientCity) TableName() string { return "client_cities" }

// ClientPropertyType backs Client.PropertyTypePrefs.
type ClientPropertyType struct {
	ClientID     uuid.UUID    `gorm:"type:uuid;primaryKey"`
	PropertyType PropertyType `gorm:"primaryKey"`
}

func (ClientPropertyType) TableName() string { return "client_property_types" }

// GeoPoint is a minimal GeoJSON Point built from an address's coordinates
// by Address.Geo. The address row itself does not store a GeoJSON value: it
// keeps latitude and longitude as two separate float columns.
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"` // [lon, lat]
}

// NewGeoPoint builds a GeoJSON Point from (lat, lon).
func NewGeoPoint(lat, lon float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: []float64{lon, lat}}
}

func (g GeoPoint) Lat() float64 {
	if len(g.Coordinates) != 2 {
		return 0
	}
	return g.Coordinates[1]
}

func (g GeoPoint) Lon() float64 {
	if len(g.Coordinates) != 2 {
		return 0
	}
	return g.Coordinates[0]
}

// Address is one persisted property sale. SourceURL is globally unique.
type Address struct {
	ID                    uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	CityID                uuid.UUID    `gorm:"type:uuid;not null;index" json:"city_id"`
	Department            string       `gorm:"size:3;not null" json:"department"`
	AddressRaw            string       `gorm:"not null" json:"address_raw"`
	SaleDate              time.Time    `gorm:"not null" json:"sale_date"`
	PropertyType          PropertyType `gorm:"size:20;not null" json:"property_type"`
	Surface               int          `json:"surface"`
	Rooms                 int          `json:"rooms"`
	Price                 int          `json:"price"`
	EstimatedCurrentPrice int          `json:"estimated_current_price"`
	Latitude              float64      `json:"latitude"`
	Longitude             float64      `json:"longitude"`
	SourceURL             string       `gorm:"uniqueIndex;not null" json:"source_url"`
	CreatedAt             time.Time    `json:"created_at"`
}

func (Address) TableName() string { return "addresses" }

func (a *Address) Geo() GeoPoint { return NewGeoPoint(a.Latitude, a.Longitude) }

// DPE is the energy certificate attached to an address.
type DPE struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AddressID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"address_id"`
	ConstructionYear int       `json:"construction_year"`
	DPEDate          time.Time `json:"dpe_date"`
	EnergyClass      string    `gorm:"size:1;default:N" json:"energy_class"`
	GESClass         string    `gorm:"size:1;default:N" json:"ges_class"`
	DPENumber        string    `json:"dpe_number"`
	CreatedAt        time.Time `json:"created_at"`
}

func (DPE) TableName() string { return "dpes" }

// ClientAddress is the assignment join row. (ClientID, AddressID) is unique.
type ClientAddress struct {
	ID        uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID  uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:idx_client_address" json:"client_id"`
	AddressID uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:idx_client_address" json:"address_id"`
	SendDate  time.Time           `json:"send_date"`
	Status    ClientAddressStatus `gorm:"size:20;not null;default:new" json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}

func (ClientAddress) TableName() string { return "client_addresses" }

// Job is a unit of per-client processing. At most one job with status in
// {pending, processing} may exist for a given client at any instant —
// enforced by a partial unique index created in the migration (see
// repositories.AutoMigrate) and defensively by internal/jobs' in-process
// mutex.
type Job struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"client_id"`
	Status       JobStatus  `gorm:"size:20;not null;index" json:"status"`
	AttemptCount int        `gorm:"not null;default:1" json:"attempt_count"`
	LastAttempt  *time.Time `json:"last_attempt"`
	NextAttempt  *time.Time `json:"next_attempt"`
	ErrorMessage string     `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

// IsActive reports whether the job counts toward the single-active-job
// invariant.
func (j *Job) IsActive() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusProcessing
}

// NewID returns a fresh opaque identifier for any entity above.
func NewID() uuid.UUID { return uuid.New() }

// ParsePropertyType maps a free-form string (scraped code or CSV value)
// onto the closed enum. Unrecognised values map to "other", never dropped.
func ParsePropertyType(s string) PropertyType {
	switch PropertyType(s) {
	case PropertyTypeHouse, PropertyTypeApartment, PropertyTypeLand, PropertyTypeCommercial, PropertyTypeOther:
		return PropertyType(s)
	default:
		return PropertyTypeOther
	}
}
