// Package tracker holds the domain model of the Search Console tracker: users,
// properties, clusters, links and their daily performance, plus the store and
// collaborator interfaces the rest of the service is written against.
package tracker
