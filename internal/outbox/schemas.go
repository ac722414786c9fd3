package outbox

const activityScoredSchema = `{
  "type": "object",
  "title": "ActivityScored",
  "properties": {
    "activity_id": {"type": "string"},
    "user_id": {"type": "string"},
    "source": {"type": "string"},
    "activity_type": {"type": "string"},
    "start_time": {"type": "string", "format": "date-time"},
    "duration_seconds": {"type": "integer"},
    "distance_meters": {"type": "integer"},
    "steps": {"type": "integer"},
    "points": {"type": "integer"},
    "week_start_date": {"type": "string", "format": "date"}
  },
  "required": ["activity_id", "user_id", "source", "activity_type", "start_time", "duration_seconds", "points", "week_start_date"],
  "additionalProperties": false
}`

const pointsAwardedSchema = `{
  "type": "object",
  "title": "PointsAwarded",
  "properties": {
    "activity_id": {"type": "string"},
    "user_id": {"type": "string"},
    "week_start_date": {"type": "string", "format": "date"},
    "points": {"type": "integer"},
    "reason": {"type": "string"}
  },
  "required": ["activity_id", "user_id", "week_start_date", "points", "reason"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	"activity.scored": {
		Schema: activityScoredSchema,
	},
	"points.awarded": {
		Schema: pointsAwardedSchema,
	},
}
