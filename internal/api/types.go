package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// sinceLayout is the accepted format of the ListGroups filter.
const sinceLayout = "2006-01-02"

// GroupSummary is one row of the group list.
type GroupSummary struct {
	ID            string `json:"id"`
	Status        int    `json:"status"`
	StatusText    string `json:"statusText"`
	StatusTone    string `json:"statusTone"`
	OperatorCount int    `json:"operatorCount"`
	CreatedAt     string `json:"createdAt,omitempty"`
	CreatedBy     int64  `json:"createdBy,omitempty"`
	CreatedByName string `json:"createdByName,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
	UpdatedBy     int64  `json:"updatedBy,omitempty"`
	UpdatedByName string `json:"updatedByName,omitempty"`
}

// LinkedOperator is an operator certificate attached to a group.
type LinkedOperator struct {
	CertificateID int64  `json:"certificateId"`
	NIK           string `json:"nik"`
	Name          string `json:"name"`
	Line          string `json:"line,omitempty"`
	LinkedAt      string `json:"linkedAt,omitempty"`
}

// Document is upload metadata. Content is fetched separately.
type Document struct {
	ID         int64  `json:"id"`
	DocType    string `json:"docType"`
	FileName   string `json:"fileName"`
	MimeType   string `json:"mimeType"`
	Size       int64  `json:"size"`
	UploadedAt string `json:"uploadedAt,omitempty"`
	UploadedBy int64  `json:"uploadedBy,omitempty"`
}

// MergedInfo describes a group's merged artifact.
type MergedInfo struct {
	ID            int64  `json:"id"`
	FragmentCount int    `json:"fragmentCount"`
	GeneratedAt   string `json:"generatedAt,omitempty"`
}

// GroupDetail is the full view of one group.
type GroupDetail struct {
	Group      GroupSummary     `json:"group"`
	Operators  []LinkedOperator `json:"operators"`
	Documents  []Document       `json:"documents"`
	Missing    []string         `json:"missing"`
	Merged     *MergedInfo      `json:"merged,omitempty"`
	Circulated bool             `json:"circulated"`
}

// AvailableGroup is a Ready group that can be put into circulation.
type AvailableGroup struct {
	GroupID       string `json:"groupId"`
	Status        int    `json:"status"`
	StatusText    string `json:"statusText"`
	ArtifactID    int64  `json:"artifactId"`
	FragmentCount int    `json:"fragmentCount"`
	GeneratedAt   string `json:"generatedAt,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
	UpdatedByName string `json:"updatedByName,omitempty"`
}

// Task is one task of a circulation.
type Task struct {
	ID           int64  `json:"id"`
	Type         string `json:"type"`
	AssigneeID   int64  `json:"assigneeId"`
	AssigneeName string `json:"assigneeName,omitempty"`
	Status       int    `json:"status"`
	StatusText   string `json:"statusText"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// Circulation is one evaluation round and its tasks keyed by task type.
type Circulation struct {
	ID            int64           `json:"id"`
	GroupID       string          `json:"groupId"`
	ArtifactID    int64           `json:"artifactId"`
	Status        int             `json:"status"`
	StatusText    string          `json:"statusText"`
	Note          string          `json:"note,omitempty"`
	IssuerID      int64           `json:"issuerId"`
	IssuerName    string          `json:"issuerName,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
	UpdatedByName string          `json:"updatedByName,omitempty"`
	Tasks         map[string]Task `json:"tasks"`
}

// Assignment is a review task assigned to a user.
type Assignment struct {
	Task
	GroupID               string `json:"groupId"`
	CirculationID         int64  `json:"circulationId"`
	CirculationStatus     int    `json:"circulationStatus"`
	CirculationStatusText string `json:"circulationStatusText"`
	IssuerID              int64  `json:"issuerId"`
	IssuerName            string `json:"issuerName,omitempty"`
	CirculatedAt          string `json:"circulatedAt,omitempty"`
}

// Revision is a reviewer's change request.
type Revision struct {
	ID            int64  `json:"id"`
	TaskID        int64  `json:"taskId"`
	CirculationID int64  `json:"circulationId,omitempty"`
	TaskType      string `json:"taskType,omitempty"`
	Description   string `json:"description"`
	FileName      string `json:"fileName,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
	HasFile       bool   `json:"hasFile"`
	Status        int    `json:"status"`
	StatusText    string `json:"statusText"`
	CreatedAt     string `json:"createdAt,omitempty"`
	CreatedBy     int64  `json:"createdBy"`
	RequesterName string `json:"requesterName,omitempty"`
	GiveTo        int64  `json:"giveTo"`
	GiveToName    string `json:"giveToName,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
}

// User is an assignment candidate.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	RoleID      int    `json:"roleId"`
	Role        string `json:"role"`
}

// UploadResponse reports a committed upload batch.
type UploadResponse struct {
	Group    GroupSummary `json:"group"`
	Created  bool         `json:"created"`
	Stored   []Document   `json:"stored"`
	Merged   *MergeReport `json:"merged,omitempty"`
	MergeErr string       `json:"mergeError,omitempty"`
}

// MergeReport summarises one merge run.
type MergeReport struct {
	Fragments []MergeFragment `json:"fragments"`
	Skipped   []MergeSkipped  `json:"skipped,omitempty"`
	Pages     int             `json:"pages"`
	Bytes     int             `json:"bytes"`
}

// MergeFragment is one entry of the merged PDF manifest.
type MergeFragment struct {
	Source        string `json:"source"`
	DocumentID    int64  `json:"documentId,omitempty"`
	CertificateID int64  `json:"certificateId,omitempty"`
	DocType       string `json:"docType,omitempty"`
	FileName      string `json:"fileName,omitempty"`
	Pages         int    `json:"pages"`
}

// MergeSkipped is a fragment dropped during assembly.
type MergeSkipped struct {
	Fragment string `json:"fragment"`
	Reason   string `json:"reason"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}
