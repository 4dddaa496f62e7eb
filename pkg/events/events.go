// Package events carries cross-pod wake-ups over PostgreSQL LISTEN/NOTIFY.
// When one pod mutates the publish queue, every pod's scheduler re-checks
// the database instead of waiting out its poll interval.
package events

// PublishQueueChannel is the NOTIFY channel for publish queue mutations.
const PublishQueueChannel = "castor_publish_queue"
