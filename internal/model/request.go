package model

import (
	"github.com/shopspring/decimal"
)

// Tax treatment codes (tribISSQN)
const (
	TribISSQNNormal     = 1 // Operação tributável
	TribISSQNImunidade  = 2
	TribISSQNExportacao = 3
	TribISSQNNaoIncide  = 4
)

// Withholding codes (tpRetISSQN)
const (
	TpRetNaoRetido           = 1
	TpRetRetidoTomador       = 2
	TpRetRetidoIntermediario = 3
)

// Environment codes (tpAmb)
const (
	AmbienteProducao    = 1
	AmbienteHomologacao = 2
)

// Emitter type codes (tpEmit)
const (
	EmitentePrestador     = 1
	EmitenteTomador       = 2
	EmitenteIntermediario = 3
)

// DpsRequest is the caller-supplied description of one DPS.
// Field names follow the national layout so JSON input maps one to one.
type DpsRequest struct {
	TpAmb    Optional[int]     `json:"tpAmb,omitzero"`
	DhEmi    Optional[string]  `json:"dhEmi,omitzero"`
	VerAplic Optional[string]  `json:"verAplic,omitzero"`
	Serie    Optional[string]  `json:"serie,omitzero"`
	NDPS     Optional[string]  `json:"nDPS,omitzero"`
	DCompet  Optional[string]  `json:"dCompet,omitzero"`
	TpEmit   Optional[int]     `json:"tpEmit,omitzero"`
	CLocEmi  Optional[string]  `json:"cLocEmi,omitzero"`
	Prest    Prestador         `json:"prest"`
	Toma     Optional[Tomador] `json:"toma,omitzero"`
	Serv     Servico           `json:"serv"`
	Valores  Valores           `json:"valores"`
}

// Prestador is the service provider (issuer)
type Prestador struct {
	CNPJ    Optional[string] `json:"CNPJ,omitzero"`
	CPF     Optional[string] `json:"CPF,omitzero"`
	IM      Optional[string] `json:"IM,omitzero"`
	XNome   Optional[string] `json:"xNome,omitzero"`
	Fone    Optional[string] `json:"fone,omitzero"`
	Email   Optional[string] `json:"email,omitzero"`
	RegTrib RegTrib          `json:"regTrib"`
}

// Document returns the issuer CNPJ, or the CPF when no CNPJ is given
func (p Prestador) Document() string {
	if HasText(p.CNPJ) {
		return Text(p.CNPJ)
	}
	return Text(p.CPF)
}

// RegTrib holds the provider's tax regime
type RegTrib struct {
	OpSimpNac   Optional[int] `json:"opSimpNac,omitzero"`
	RegApTribSN Optional[int] `json:"regApTribSN,omitzero"`
	RegEspTrib  Optional[int] `json:"regEspTrib,omitzero"`
}

// Tomador is the service taker
type Tomador struct {
	CNPJ  Optional[string]   `json:"CNPJ,omitzero"`
	CPF   Optional[string]   `json:"CPF,omitzero"`
	NIF   Optional[string]   `json:"NIF,omitzero"`
	IM    Optional[string]   `json:"IM,omitzero"`
	XNome Optional[string]   `json:"xNome,omitzero"`
	End   Optional[Endereco] `json:"end,omitzero"`
	Fone  Optional[string]   `json:"fone,omitzero"`
	Email Optional[string]   `json:"email,omitzero"`
}

// Document returns whichever taker document was supplied
func (t Tomador) Document() string {
	switch {
	case HasText(t.CNPJ):
		return Text(t.CNPJ)
	case HasText(t.CPF):
		return Text(t.CPF)
	default:
		return Text(t.NIF)
	}
}

// Endereco is a national address
type Endereco struct {
	CMun    Optional[string] `json:"cMun,omitzero"`
	CEP     Optional[string] `json:"CEP,omitzero"`
	XLgr    Optional[string] `json:"xLgr,omitzero"`
	Nro     Optional[string] `json:"nro,omitzero"`
	XCpl    Optional[string] `json:"xCpl,omitzero"`
	XBairro Optional[string] `json:"xBairro,omitzero"`
}

// Servico describes the rendered service
type Servico struct {
	LocPrest LocPrest `json:"locPrest"`
	CServ    CServ    `json:"cServ"`
}

// LocPrest is where the service was rendered
type LocPrest struct {
	CLocPrestacao  Optional[string] `json:"cLocPrestacao,omitzero"`
	CPaisPrestacao Optional[string] `json:"cPaisPrestacao,omitzero"`
}

// CServ classifies the service
type CServ struct {
	CTribNac  Optional[string] `json:"cTribNac,omitzero"`
	CTribMun  Optional[string] `json:"cTribMun,omitzero"`
	XDescServ Optional[string] `json:"xDescServ,omitzero"`
	CNBS      Optional[string] `json:"cNBS,omitzero"`
}

// Valores holds monetary and tax values
type Valores struct {
	VServPrest VServPrest `json:"vServPrest"`
	Trib       Trib       `json:"trib"`
}

// VServPrest holds the service value
type VServPrest struct {
	VReceb Optional[decimal.Decimal] `json:"vReceb,omitzero"`
	VServ  Optional[decimal.Decimal] `json:"vServ,omitzero"`
}

// Trib holds tax treatment
type Trib struct {
	TribMun TribMun `json:"tribMun"`
	TotTrib TotTrib `json:"totTrib"`
}

// TribMun holds the municipal service tax (ISSQN) treatment
type TribMun struct {
	TribISSQN  Optional[int]             `json:"tribISSQN,omitzero"`
	TpRetISSQN Optional[int]             `json:"tpRetISSQN,omitzero"`
	PAliq      Optional[decimal.Decimal] `json:"pAliq,omitzero"`
}

// TotTrib holds the approximate total tax indicator
type TotTrib struct {
	IndTotTrib Optional[int]             `json:"indTotTrib,omitzero"`
	PTotTribSN Optional[decimal.Decimal] `json:"pTotTribSN,omitzero"`
}
