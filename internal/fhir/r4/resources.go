package r4

// Resource is implemented by every resource the converter emits.
type Resource interface {
	GetResourceType() string
	GetID() string
}

// Resource type names.
const (
	TypePatient      = "Patient"
	TypeEncounter    = "Encounter"
	TypePractitioner = "Practitioner"
	TypeOrganization = "Organization"
	TypeCoverage     = "Coverage"
	TypeBundle       = "Bundle"
)

// ReferenceTo builds a relative "ResourceType/id" reference string.
func ReferenceTo(resourceType, id string) string {
	return resourceType + "/" + id
}

// Patient represents a FHIR R4 Patient resource.
type Patient struct {
	ResourceType     string           `json:"resourceType"`
	ID               string           `json:"id,omitempty"`
	Meta             *Meta            `json:"meta,omitempty"`
	Extension        []Extension      `json:"extension,omitempty"`
	Identifier       []Identifier     `json:"identifier,omitempty"`
	Name             []HumanName      `json:"name,omitempty"`
	Telecom          []ContactPoint   `json:"telecom,omitempty"`
	Gender           string           `json:"gender,omitempty"` // male | female | other | unknown
	BirthDate        string           `json:"birthDate,omitempty"`
	DeceasedBoolean  *bool            `json:"deceasedBoolean,omitempty"`
	DeceasedDateTime string           `json:"deceasedDateTime,omitempty"`
	Address          []Address        `json:"address,omitempty"`
	MaritalStatus    *CodeableConcept `json:"maritalStatus,omitempty"`
	Contact          []PatientContact `json:"contact,omitempty"`
}

// PatientContact represents a next of kin or other contact party.
type PatientContact struct {
	Relationship []CodeableConcept `json:"relationship,omitempty"`
	Name         *HumanName        `json:"name,omitempty"`
	Telecom      []ContactPoint    `json:"telecom,omitempty"`
	Address      *Address          `json:"address,omitempty"`
}

// NewPatient returns a Patient with its type tag set.
func NewPatient(id string) *Patient {
	return &Patient{ResourceType: TypePatient, ID: id}
}

func (p *Patient) GetResourceType() string { return TypePatient }
func (p *Patient) GetID() string           { return p.ID }

// GetOfficialName returns the patient's official name, or first available.
func (p *Patient) GetOfficialName() *HumanName {
	for i := range p.Name {
		if p.Name[i].Use == "official" {
			return &p.Name[i]
		}
	}
	if len(p.Name) > 0 {
		return &p.Name[0]
	}
	return nil
}

// GetIdentifier returns the value of the first identifier in system.
func (p *Patient) GetIdentifier(system string) string {
	for _, id := range p.Identifier {
		if id.System == system {
			return id.Value
		}
	}
	return ""
}

// PrimaryIdentifier returns the INS when present, otherwise the first identifier.
func (p *Patient) PrimaryIdentifier() string {
	if ins := p.GetIdentifier(SystemINSNIR); ins != "" {
		return ins
	}
	if len(p.Identifier) > 0 {
		return p.Identifier[0].Value
	}
	return ""
}

// Encounter represents a FHIR R4 Encounter resource.
type Encounter struct {
	ResourceType string                 `json:"resourceType"`
	ID           string                 `json:"id,omitempty"`
	Meta         *Meta                  `json:"meta,omitempty"`
	Extension    []Extension            `json:"extension,omitempty"`
	Identifier   []Identifier           `json:"identifier,omitempty"`
	Status       string                 `json:"status"`
	Class        Coding                 `json:"class"`
	ServiceType  *CodeableConcept       `json:"serviceType,omitempty"`
	Subject      *Reference             `json:"subject,omitempty"`
	Participant  []EncounterParticipant `json:"participant,omitempty"`
	Period       *Period                `json:"period,omitempty"`
	Location     []EncounterLocation    `json:"location,omitempty"`
}

// EncounterParticipant links a practitioner to an encounter.
type EncounterParticipant struct {
	Type       []CodeableConcept `json:"type,omitempty"`
	Individual *Reference        `json:"individual,omitempty"`
}

// EncounterLocation carries a display-only location.
type EncounterLocation struct {
	Location Reference `json:"location"`
}

// NewEncounter returns an Encounter with its type tag set.
func NewEncounter(id string) *Encounter {
	return &Encounter{ResourceType: TypeEncounter, ID: id}
}

func (e *Encounter) GetResourceType() string { return TypeEncounter }
func (e *Encounter) GetID() string           { return e.ID }

// Practitioner represents a FHIR R4 Practitioner resource.
type Practitioner struct {
	ResourceType string         `json:"resourceType"`
	ID           string         `json:"id,omitempty"`
	Meta         *Meta          `json:"meta,omitempty"`
	Identifier   []Identifier   `json:"identifier,omitempty"`
	Name         []HumanName    `json:"name,omitempty"`
	Telecom      []ContactPoint `json:"telecom,omitempty"`
}

// NewPractitioner returns a Practitioner with its type tag set.
func NewPractitioner(id string) *Practitioner {
	return &Practitioner{ResourceType: TypePractitioner, ID: id}
}

func (p *Practitioner) GetResourceType() string { return TypePractitioner }
func (p *Practitioner) GetID() string           { return p.ID }

// Organization represents a FHIR R4 Organization resource.
type Organization struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id,omitempty"`
	Meta         *Meta             `json:"meta,omitempty"`
	Identifier   []Identifier      `json:"identifier,omitempty"`
	Active       *bool             `json:"active,omitempty"`
	Type         []CodeableConcept `json:"type,omitempty"`
	Name         string            `json:"name,omitempty"`
}

// NewOrganization returns an Organization with its type tag set.
func NewOrganization(id string) *Organization {
	return &Organization{ResourceType: TypeOrganization, ID: id}
}

func (o *Organization) GetResourceType() string { return TypeOrganization }
func (o *Organization) GetID() string           { return o.ID }

// Coverage represents a FHIR R4 Coverage resource.
type Coverage struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id,omitempty"`
	Meta         *Meta            `json:"meta,omitempty"`
	Extension    []Extension      `json:"extension,omitempty"`
	Identifier   []Identifier     `json:"identifier,omitempty"`
	Status       string           `json:"status"`
	Type         *CodeableConcept `json:"type,omitempty"`
	SubscriberID string           `json:"subscriberId,omitempty"`
	Beneficiary  Reference        `json:"beneficiary"`
	Relationship *CodeableConcept `json:"relationship,omitempty"`
	Period       *Period          `json:"period,omitempty"`
	Payor        []Reference      `json:"payor"`
	Class        []CoverageClass  `json:"class,omitempty"`
}

// CoverageClass carries a plan or group classification.
type CoverageClass struct {
	Type  CodeableConcept `json:"type"`
	Value string          `json:"value"`
	Name  string          `json:"name,omitempty"`
}

// NewCoverage returns a Coverage with its type tag set.
func NewCoverage(id string) *Coverage {
	return &Coverage{ResourceType: TypeCoverage, ID: id}
}

func (c *Coverage) GetResourceType() string { return TypeCoverage }
func (c *Coverage) GetID() string           { return c.ID }

// Extensible is implemented by resources that accept Z-segment extensions.
type Extensible interface {
	Resource
	AddExtension(ext ...Extension)
}

func (p *Patient) AddExtension(ext ...Extension)   { p.Extension = append(p.Extension, ext...) }
func (e *Encounter) AddExtension(ext ...Extension) { e.Extension = append(e.Extension, ext...) }
func (c *Coverage) AddExtension(ext ...Extension)  { c.Extension = append(c.Extension, ext...) }
