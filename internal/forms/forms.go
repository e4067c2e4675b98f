// Package forms describes the export layouts of the repository: the fixed
// table of well known forms and the remote catalog used for everything else.
package forms

import (
	"strings"
)

// Service is the repository service a layout belongs to.
type Service struct {
	Id        int    `json:"id"`
	Name      string `json:"nome"`
	Reference string `json:"referenciaServico,omitempty"`
	Instance  string `json:"instanciaServico,omitempty"`
}

// Layout identifies a layout inside a service. The gateway accepts the user
// layout code as a number and every other one as a zero padded string, Code
// keeps whichever form the server expects.
type Layout struct {
	Code             any    `json:"codigo"`
	Name             string `json:"nome,omitempty"`
	Id               int    `json:"id"`
	ServiceId        int    `json:"idServico"`
	ServiceName      string `json:"nomeServico"`
	ServiceReference string `json:"referenciaServico"`
}

// Form is the formulario block of an export request.
type Form struct {
	Code string `json:"codigo"`
	Name string `json:"nome,omitempty"`
}

// Descriptor is the static export metadata of a well known form.
type Descriptor struct {
	Code        string
	DisplayName string
	FileNames   []string
	Service     Service
	Layout      Layout
	Columns     []int
}

// Form returns the formulario block of the descriptor.
func (d Descriptor) Form() Form {
	return Form{Code: d.Code, Name: d.DisplayName}
}

func columnRange(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

const (
	refUsers        = "REPOSITÓRIO DE USUÁRIOS"
	refInstruments  = "REPOSITÓRIO DE INSTRUMENTOS"
	refData         = "REPOSITÓRIO DE DADOS"
	refRequests     = "REPOSITÓRIO DE SOLICITAÇÃO"
	refSubjects     = "REPOSITÓRIO DE SUJEITOS"
	serviceUsers    = 15
	serviceInstr    = 6
	serviceData     = 1
	serviceRequests = 10
	serviceSubjects = 3
)

var table = map[string]Descriptor{
	"L185": {
		Code:        "L185",
		DisplayName: "Leiaute de Usuário - v3",
		FileNames:   []string{""},
		Service:     Service{Id: serviceUsers, Name: "US"},
		Layout:      Layout{Code: 185, Id: 170, ServiceId: serviceUsers, ServiceName: "US", ServiceReference: refUsers},
		Columns:     columnRange(1, 71),
	},
	"L062": {
		Code:        "L062",
		DisplayName: "Leiaute de Controle de usuários e pontos de entrega.",
		FileNames:   []string{""},
		Service:     Service{Id: serviceUsers, Name: "US"},
		Layout:      Layout{Code: "062", Id: 190, ServiceId: serviceUsers, ServiceName: "US", ServiceReference: refUsers},
		Columns:     columnRange(1, 15),
	},
	"L204": {
		Code:        "L204",
		DisplayName: "Leiaute de Instrumento",
		FileNames:   []string{""},
		Service:     Service{Id: serviceInstr, Name: "IN"},
		Layout:      Layout{Code: "204", Id: 173, ServiceId: serviceInstr, ServiceName: "IN", ServiceReference: refInstruments},
		Columns:     columnRange(1, 41),
	},
	"L008": {
		Code:        "L008",
		DisplayName: "Leiaute de decodificação",
		FileNames:   []string{"", ""},
		Service:     Service{Id: serviceData, Name: "DA"},
		Layout:      Layout{Code: "008", Id: 8, ServiceId: serviceData, ServiceName: "DA", ServiceReference: refData},
		Columns:     columnRange(1, 226),
	},
	"L021": {
		Code:        "L021",
		DisplayName: "Leiaute de solicitação de verificação",
		FileNames:   []string{"", ""},
		Service:     Service{Id: serviceRequests, Name: "SO"},
		Layout:      Layout{Code: "021", Id: 17, ServiceId: serviceRequests, ServiceName: "SO", ServiceReference: refRequests},
		Columns:     columnRange(1, 26),
	},
	"L010": {
		Code:        "L010",
		DisplayName: "Leiaute de solicitação de recodificação",
		FileNames:   []string{"", ""},
		Service:     Service{Id: serviceRequests, Name: "SO"},
		Layout:      Layout{Code: "010", Id: 148, ServiceId: serviceRequests, ServiceName: "SO", ServiceReference: refRequests},
		Columns:     columnRange(1, 26),
	},
	"L005": {
		Code:        "L005",
		DisplayName: "Leiaute de base planejada",
		FileNames:   []string{"", ""},
		Service:     Service{Id: serviceData, Name: "DA"},
		Layout:      Layout{Code: "005", Id: 5, ServiceId: serviceData, ServiceName: "DA", ServiceReference: refData},
		Columns:     columnRange(1, 116),
	},
	"L009": {
		Code:        "L009",
		DisplayName: "Leiaute de sujeito",
		FileNames:   []string{"", ""},
		Service:     Service{Id: serviceSubjects, Name: "SU"},
		Layout:      Layout{Code: "009", Id: 9, ServiceId: serviceSubjects, ServiceName: "SU", ServiceReference: refSubjects},
		Columns:     columnRange(1, 97),
	},
}

// Known returns the descriptor of a form in the fixed table. The returned
// value owns its slices.
func Known(code string) (Descriptor, bool) {
	d, ok := table[code]
	if !ok {
		return Descriptor{}, false
	}
	d.FileNames = append([]string(nil), d.FileNames...)
	d.Columns = append([]int(nil), d.Columns...)
	return d, true
}

// KnownCodes lists the fixed table codes in a stable order.
func KnownCodes() []string {
	return []string{"L185", "L062", "L204", "L008", "L021", "L010", "L005", "L009"}
}

// AdministrativeService and AdministrativeLayout are used for every form
// that is not in the fixed table.
var (
	AdministrativeService = Service{
		Id:        13,
		Name:      "AD",
		Reference: "REPOSITÓRIO DE DADOS ADMINISTRATIVOS",
		Instance:  "REPOSITORIO_DADO_ADMINISTRATIVO",
	}
	AdministrativeLayout = Layout{
		Code:             DefaultLayoutCode,
		Name:             "Leiaute de dado administrativo",
		Id:               125,
		ServiceId:        13,
		ServiceName:      "AD",
		ServiceReference: "REPOSITORIO_DADOS_ADMINISTRATIVOS",
	}
)

// DefaultLayoutCode is the layout of administrative data forms.
const DefaultLayoutCode = "055"

var layoutCodes = map[string]string{
	"L185": "185",
	"L062": "185",
	"L005": "005",
	"L009": "009",
	"L204": "204",
	"L008": "008",
	"L021": "021",
	"L010": "010",
}

// LayoutCode returns the layout used to query the field list of a form.
func LayoutCode(formCode string) string {
	if code, ok := layoutCodes[formCode]; ok {
		return code
	}
	return DefaultLayoutCode
}

// LookupName is the business name a form is registered under in the
// catalog of a subprogram.
func LookupName(formName, subprogram string) string {
	return "FORM_" + formName + "_" + subprogram
}

// Kind classifies the form names a caller may ask for.
type Kind int

const (
	// KindDynamic forms are resolved through the remote catalog.
	KindDynamic Kind = iota
	KindUsers
	KindLogistics
	KindPlanned
	KindSubject
	KindInstrument
	KindDecoding
	KindVerification
	KindRecoding
)

var kindByName = map[string]Kind{
	"USUARIO":       KindUsers,
	"APP_LOGISTICA": KindLogistics,
	"L005":          KindPlanned,
	"L009":          KindSubject,
	"L204":          KindInstrument,
	"L008":          KindDecoding,
	"L021":          KindVerification,
	"L010":          KindRecoding,
}

// Classify maps a requested form name to its kind, names are compared
// case-insensitively.
func Classify(formName string) Kind {
	return kindByName[strings.ToUpper(strings.TrimSpace(formName))]
}

// Code returns the fixed table code of the kind, empty for KindDynamic.
func (k Kind) Code() string {
	switch k {
	case KindUsers:
		return "L185"
	case KindLogistics:
		return "L062"
	case KindPlanned:
		return "L005"
	case KindSubject:
		return "L009"
	case KindInstrument:
		return "L204"
	case KindDecoding:
		return "L008"
	case KindVerification:
		return "L021"
	case KindRecoding:
		return "L010"
	}
	return ""
}

// Label is the display label used to name the exported files.
func (k Kind) Label(formName, subprogram string) string {
	switch k {
	case KindUsers:
		return LookupName("USUARIO", subprogram)
	case KindLogistics:
		return "APP_LOGISTICA"
	case KindDynamic:
		return LookupName(formName, subprogram)
	}
	return k.Code()
}

// UsesCodeInFileName reports whether files exported for code are named
// after the code instead of the label.
func UsesCodeInFileName(code string) bool {
	switch code {
	case "L005", "L009", "L204", "L008", "L021", "L010":
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case KindUsers:
		return "users"
	case KindLogistics:
		return "logistics"
	case KindPlanned:
		return "planned"
	case KindSubject:
		return "subject"
	case KindInstrument:
		return "instrument"
	case KindDecoding:
		return "decoding"
	case KindVerification:
		return "verification"
	case KindRecoding:
		return "recoding"
	}
	return "dynamic"
}
