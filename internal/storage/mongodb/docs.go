package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

type userDoc struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Email     string        `bson:"email"`
	Name      string        `bson:"name"`
	CreatedAt time.Time     `bson:"createdAt"`
	UpdatedAt time.Time     `bson:"updatedAt"`
}

func (d userDoc) user() tracker.User {
	return tracker.User{ID: d.ID.Hex(), Email: d.Email, Name: d.Name, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

type propertyDoc struct {
	ID              bson.ObjectID `bson:"_id,omitempty"`
	UserID          bson.ObjectID `bson:"userId"`
	SiteURL         string        `bson:"siteUrl"`
	PermissionLevel string        `bson:"permissionLevel,omitempty"`
	Active          bool          `bson:"active"`
	CreatedAt       time.Time     `bson:"createdAt"`
	UpdatedAt       time.Time     `bson:"updatedAt"`
}

func (d propertyDoc) property() tracker.DomainProperty {
	return tracker.DomainProperty{
		ID:              d.ID.Hex(),
		UserID:          d.UserID.Hex(),
		SiteURL:         d.SiteURL,
		PermissionLevel: d.PermissionLevel,
		Active:          d.Active,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type clusterDoc struct {
	ID            bson.ObjectID `bson:"_id,omitempty"`
	UserID        bson.ObjectID `bson:"userId"`
	Domain        string        `bson:"domain"`
	Name          string        `bson:"clusterName"`
	DeviceFilter  string        `bson:"deviceFilter"`
	CountryFilter string        `bson:"countryFilter"`
	Deleted       bool          `bson:"deleted"`
	DeletedAt     *time.Time    `bson:"deletedAt,omitempty"`
	CreatedAt     time.Time     `bson:"createdAt"`
	UpdatedAt     time.Time     `bson:"updatedAt"`
}

func (d clusterDoc) cluster() tracker.Cluster {
	return tracker.Cluster{
		ID:            d.ID.Hex(),
		UserID:        d.UserID.Hex(),
		Domain:        d.Domain,
		Name:          d.Name,
		DeviceFilter:  d.DeviceFilter,
		CountryFilter: d.CountryFilter,
		Deleted:       d.Deleted,
		DeletedAt:     d.DeletedAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type linkDoc struct {
	ID        bson.ObjectID      `bson:"_id,omitempty"`
	ClusterID bson.ObjectID      `bson:"clusterId"`
	URL       string             `bson:"url"`
	Status    tracker.LinkStatus `bson:"status"`
	Deleted   bool               `bson:"deleted"`
	DeletedAt *time.Time         `bson:"deletedAt,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d linkDoc) link() tracker.Link {
	return tracker.Link{
		ID:        d.ID.Hex(),
		ClusterID: d.ClusterID.Hex(),
		URL:       d.URL,
		Status:    d.Status,
		Deleted:   d.Deleted,
		DeletedAt: d.DeletedAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type performanceDoc struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	LinkID      bson.ObjectID `bson:"linkId"`
	Date        string        `bson:"date"`
	Clicks      float64       `bson:"clicks"`
	Impressions float64       `bson:"impressions"`
	CTR         float64       `bson:"ctr"`
	Position    float64       `bson:"position"`
	Deleted     bool          `bson:"deleted"`
	DeletedAt   *time.Time    `bson:"deletedAt,omitempty"`
	CreatedAt   time.Time     `bson:"createdAt"`
	UpdatedAt   time.Time     `bson:"updatedAt"`
}

func (d performanceDoc) performance() tracker.LinkPerformance {
	return tracker.LinkPerformance{
		ID:     d.ID.Hex(),
		LinkID: d.LinkID.Hex(),
		PerformanceRow: tracker.PerformanceRow{
			Date:        d.Date,
			Clicks:      d.Clicks,
			Impressions: d.Impressions,
			CTR:         d.CTR,
			Position:    d.Position,
		},
		Deleted:   d.Deleted,
		DeletedAt: d.DeletedAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type idDoc struct {
	ID bson.ObjectID `bson:"_id"`
}
