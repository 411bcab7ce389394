package sefintest

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/rezonia/nfse-dps/internal/dps"
	"github.com/rezonia/nfse-dps/internal/envelope"
)

const namespace = "http://www.sped.fazenda.gov.br/nfse"

func requestXML(c *gin.Context) []byte {
	v, _ := c.Get("xml")
	xml, _ := v.([]byte)
	return xml
}

func (s *Server) handleEmit(c *gin.Context) {
	raw, _ := c.Get("raw")
	var req EmitRequest
	if err := binding.JSON.BindBody(raw.([]byte), &req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("E0002", "corpo da requisicao invalido"))
		return
	}

	xml := requestXML(c)
	if xml == nil {
		c.JSON(http.StatusBadRequest, errorBody("E0003", "dpsXmlGZipB64 nao pode ser decodificado"))
		return
	}

	s.issue(c, xml, "")
}

// issue registers the DPS found in xml and answers with the new NFS-e.
// replaces names a key to cancel once the new note exists.
func (s *Server) issue(c *gin.Context, xml []byte, replaces string) {
	doc, err := parseDocument(xml)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("E0004", "XML mal formado: "+err.Error()))
		return
	}
	dpsEl := doc.Root()
	if dpsEl.Tag != "DPS" {
		dpsEl = dpsEl.FindElement("//DPS")
	}
	var inf *etree.Element
	if dpsEl != nil {
		inf = dpsEl.FindElement("infDPS")
	}
	if inf == nil || inf.SelectAttrValue("Id", "") == "" {
		c.JSON(http.StatusBadRequest, errorBody("E0005", "infDPS ausente ou sem Id"))
		return
	}
	if e := s.checkSignature(xml); e != nil {
		c.JSON(http.StatusBadRequest, e)
		return
	}

	id := inf.SelectAttrValue("Id", "")
	tpAmb, _ := strconv.Atoi(textOf(inf, "tpAmb"))

	s.mu.Lock()
	if _, dup := s.byDps[id]; dup {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, errorBody("E0014", "DPS ja utilizada para emissao de NFS-e"))
		return
	}
	if replaces != "" {
		old, ok := s.byKey[replaces]
		if !ok {
			s.mu.Unlock()
			c.JSON(http.StatusNotFound, errorBody("E0404", "NFS-e substituida nao encontrada"))
			return
		}
		old.Cancelled = true
	}
	n := &Issued{Numero: s.next, IDDps: id}
	s.next++
	n.ChaveAcesso = s.accessKey(id, n.Numero)
	n.CodVerif = fmt.Sprintf("%08X", uint32(n.Numero)*2654435761)
	n.XML = s.nfseXML(n, dpsEl)
	s.byKey[n.ChaveAcesso] = n
	s.byDps[id] = n
	s.mu.Unlock()

	enc, err := envelope.Encode(n.XML)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("E9999", err.Error()))
		return
	}
	c.JSON(http.StatusCreated, EmitResponse{
		TipoAmbiente:          tpAmb,
		VersaoAplicativo:      "sefintest",
		DataHoraProcessamento: s.config.Now(),
		IDDps:                 id,
		ChaveAcesso:           n.ChaveAcesso,
		NfseXMLGZipB64:        enc,
	})
}

// accessKey lays out the 50-digit key: location(7) ambient(1) issuer type(1)
// issuer(14) number(13) year-month(4) code(9) check digit(1)
func (s *Server) accessKey(id string, numero int) string {
	digits := strings.TrimPrefix(id, "DPS")
	loc, issuerType, issuer := digits[:7], digits[7:8], digits[8:22]
	body := loc + "1" + issuerType + issuer +
		fmt.Sprintf("%013d", numero) +
		s.config.Now().Format("0601") +
		fmt.Sprintf("%09d", numero)
	return body + checkDigit(body)
}

// checkDigit is the modulo 11 digit with weights 2..9
func checkDigit(digits string) string {
	sum, weight := 0, 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	dv := 11 - sum%11
	if dv >= 10 {
		dv = 0
	}
	return strconv.Itoa(dv)
}

func (s *Server) nfseXML(n *Issued, dpsEl *etree.Element) []byte {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("NFSe")
	root.CreateAttr("xmlns", namespace)
	root.CreateAttr("versao", "1.00")
	inf := root.CreateElement("infNFSe")
	inf.CreateAttr("Id", "NFS"+n.ChaveAcesso)
	inf.CreateElement("nNFSe").SetText(strconv.Itoa(n.Numero))
	inf.CreateElement("cVerif").SetText(n.CodVerif)
	inf.CreateElement("dhProc").SetText(s.config.Now().Format("2006-01-02T15:04:05-07:00"))

	copied := dpsEl.Copy()
	copied.RemoveAttr("xmlns")
	inf.AddChild(copied)

	out, _ := doc.WriteToBytes()
	return out
}

func (s *Server) handleQueryByKey(c *gin.Context) {
	key := dps.ReadText(requestXML(c), "chNFSe")
	s.answerStatus(c, func() (*Issued, bool) {
		n, ok := s.byKey[key]
		return n, ok
	})
}

func (s *Server) handleQueryByDPS(c *gin.Context) {
	id := dps.ReadText(requestXML(c), "idDps")
	s.answerStatus(c, func() (*Issued, bool) {
		n, ok := s.byDps[id]
		return n, ok
	})
}

func (s *Server) answerStatus(c *gin.Context, find func() (*Issued, bool)) {
	s.mu.Lock()
	n, ok := find()
	var snapshot Issued
	if ok {
		snapshot = *n
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, errorBody("E0404", "NFS-e nao encontrada"))
		return
	}

	situacao := "ATIVA"
	if snapshot.Cancelled {
		situacao = "CANCELADA"
	}
	root := etree.NewElement("Resposta")
	root.CreateElement("Sucesso").SetText("true")
	root.CreateElement("NumeroNfse").SetText(strconv.Itoa(snapshot.Numero))
	root.CreateElement("CodigoVerificacao").SetText(snapshot.CodVerif)
	root.CreateElement("ChaveAcesso").SetText(snapshot.ChaveAcesso)
	root.CreateElement("Situacao").SetText(situacao)
	writeXML(c, http.StatusOK, root)
}

func (s *Server) handleCancel(c *gin.Context) {
	xml := requestXML(c)
	if xml == nil {
		c.JSON(http.StatusBadRequest, errorBody("E0003", "evento nao pode ser decodificado"))
		return
	}
	if e := s.checkSignature(xml); e != nil {
		c.JSON(http.StatusBadRequest, e)
		return
	}
	key := dps.ReadText(xml, "chNFSe")

	s.mu.Lock()
	n, ok := s.byKey[key]
	already := ok && n.Cancelled
	if ok {
		n.Cancelled = true
	}
	s.mu.Unlock()

	switch {
	case !ok:
		c.JSON(http.StatusNotFound, errorBody("E0404", "NFS-e nao encontrada"))
		return
	case already:
		root := etree.NewElement("Resposta")
		msg := root.CreateElement("ListaMensagemRetorno").CreateElement("MensagemRetorno")
		msg.CreateElement("Codigo").SetText("E0840")
		msg.CreateElement("Mensagem").SetText("NFS-e ja cancelada")
		writeXML(c, http.StatusOK, root)
		return
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	ev := doc.CreateElement("evento")
	ev.CreateAttr("xmlns", namespace)
	ev.CreateAttr("versao", "1.00")
	inf := ev.CreateElement("infEvento")
	inf.CreateAttr("Id", "EVT"+key+dps.EventCancellation)
	inf.CreateElement("chNFSe").SetText(key)
	inf.CreateElement("nNFSe").SetText(strconv.Itoa(n.Numero))
	inf.CreateElement("dhProc").SetText(s.config.Now().Format("2006-01-02T15:04:05-07:00"))
	out, _ := doc.WriteToBytes()

	enc, err := envelope.Encode(out)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("E9999", err.Error()))
		return
	}
	c.JSON(http.StatusCreated, EventResponse{
		DataHoraProcessamento: s.config.Now(),
		EventoXMLGZipB64:      enc,
	})
}

func (s *Server) handleReplace(c *gin.Context) {
	xml := requestXML(c)
	if xml == nil {
		c.JSON(http.StatusBadRequest, errorBody("E0003", "documento nao pode ser decodificado"))
		return
	}
	replaced := dps.ReadText(xml, "chSubstda")
	if replaced == "" {
		c.JSON(http.StatusBadRequest, errorBody("E0006", "chSubstda obrigatoria na substituicao"))
		return
	}
	s.issue(c, xml, replaced)
}

func (s *Server) handleQueryByBatch(c *gin.Context) {
	protocol := dps.ReadText(requestXML(c), "Protocolo")
	if protocol == "" {
		c.JSON(http.StatusBadRequest, errorBody("E0007", "Protocolo obrigatorio"))
		return
	}

	s.mu.Lock()
	count := len(s.byKey)
	s.mu.Unlock()

	root := etree.NewElement("RetornoLote")
	root.CreateElement("Status").SetText("1")
	root.CreateElement("Protocolo").SetText(protocol)
	root.CreateElement("Quantidade").SetText(strconv.Itoa(count))
	writeXML(c, http.StatusOK, root)
}

func (s *Server) handleDownloadXML(c *gin.Context) {
	key := dps.ReadText(requestXML(c), "chNFSe")
	n, ok := s.Lookup(key)
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("E0404", "NFS-e nao encontrada"))
		return
	}
	enc, err := envelope.Encode(n.XML)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("E9999", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"chaveAcesso": n.ChaveAcesso, "nfseXmlGZipB64": enc})
}

func (s *Server) handleDANFSe(c *gin.Context) {
	key := dps.ReadText(requestXML(c), "chNFSe")
	n, ok := s.Lookup(key)
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("E0404", "NFS-e nao encontrada"))
		return
	}
	root := etree.NewElement("Resposta")
	root.CreateElement("Sucesso").SetText("true")
	root.CreateElement("NumeroNfse").SetText(strconv.Itoa(n.Numero))
	root.CreateElement("LinkNfse").SetText("https://sefintest.local/danfse/" + n.ChaveAcesso)
	writeXML(c, http.StatusOK, root)
}

func writeXML(c *gin.Context, status int, root *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(root)
	out, err := doc.WriteToBytes()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("E9999", err.Error()))
		return
	}
	c.Data(status, "application/xml; charset=utf-8", out)
}

func textOf(el *etree.Element, tag string) string {
	if child := el.FindElement(tag); child != nil {
		return strings.TrimSpace(child.Text())
	}
	return ""
}
