package aggregator

import (
	"encoding/json"
	"reflect"
)

// IstEventForReport is one captured extraction as seen by the class report.
// Skills is left untyped: it may be absent, null, a scalar, an object or an
// array of mixed values. HasSkills records whether the key was present at all;
// a non-nil Skills value counts as present regardless.
type IstEventForReport struct {
	ID         string `json:"id"`
	CourseID   string `json:"courseId"`
	CreatedAt  string `json:"createdAt"`
	Skills     any    `json:"skills,omitempty"`
	HasSkills  bool   `json:"-"`
	Intent     any    `json:"intent,omitempty"`
	Trajectory any    `json:"trajectory,omitempty"`
}

// UnmarshalJSON keeps the skills value untyped and tracks key presence.
func (e *IstEventForReport) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = IstEventForReport{}
	// id, courseId and createdAt are read leniently: a wrong type leaves the zero value.
	if v, ok := raw["id"]; ok {
		_ = json.Unmarshal(v, &e.ID)
	}
	if v, ok := raw["courseId"]; ok {
		_ = json.Unmarshal(v, &e.CourseID)
	}
	if v, ok := raw["createdAt"]; ok {
		_ = json.Unmarshal(v, &e.CreatedAt)
	}
	if v, ok := raw["skills"]; ok {
		e.HasSkills = true
		if err := json.Unmarshal(v, &e.Skills); err != nil {
			return err
		}
	}
	if v, ok := raw["intent"]; ok {
		if err := json.Unmarshal(v, &e.Intent); err != nil {
			return err
		}
	}
	if v, ok := raw["trajectory"]; ok {
		if err := json.Unmarshal(v, &e.Trajectory); err != nil {
			return err
		}
	}
	return nil
}

// NewReportEvent builds a well-formed event with a present skills field.
func NewReportEvent(id, courseID, createdAt string, skills ...string) IstEventForReport {
	s := make([]any, len(skills))
	for i, v := range skills {
		s[i] = v
	}
	return IstEventForReport{ID: id, CourseID: courseID, CreatedAt: createdAt, Skills: s, HasSkills: true}
}

type skillsShape int

const (
	skillsMissing skillsShape = iota
	skillsNull
	skillsNotArray
	skillsArray
)

// classifySkills maps the skills field onto one of the shapes above and, for
// arrays, returns the raw entries.
func classifySkills(e IstEventForReport) (skillsShape, []any) {
	if !e.HasSkills && e.Skills == nil {
		return skillsMissing, nil
	}
	switch v := e.Skills.(type) {
	case nil:
		return skillsNull, nil
	case []any:
		if v == nil {
			return skillsNull, nil
		}
		return skillsArray, v
	case []string:
		if v == nil {
			return skillsNull, nil
		}
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return skillsArray, out
	}
	rv := reflect.ValueOf(e.Skills)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return skillsNull, nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return skillsArray, out
	case reflect.Pointer:
		if rv.IsNil() {
			return skillsNull, nil
		}
	}
	return skillsNotArray, nil
}
