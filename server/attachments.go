package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/attachments"
	"open-pryv.io/core/common"
	"open-pryv.io/core/model"
	"open-pryv.io/core/storage"
)

// handleUpdateWrapped serves PUT routes: the JSON body is the update object,
// wrapped as params["update"] next to the path id.
func (s *Server) handleUpdateWrapped(methodID string) echo.HandlerFunc {
	return func(c echo.Context) error {
		apiCtx, err := s.newContext(c, true)
		if err != nil {
			return err
		}
		var update map[string]interface{}
		if err := json.NewDecoder(c.Request().Body).Decode(&update); err != nil {
			return apierror.New(apierror.InvalidRequestStructure, "Malformed JSON body")
		}
		params := api.Params{"update": update}
		for _, name := range c.ParamNames() {
			if name == "username" {
				continue
			}
			params[name] = c.Param(name)
		}
		result := api.NewResult()
		if err := s.registry.Call(apiCtx, methodID, params, result); err != nil {
			return err
		}
		return s.writeResult(c, apiCtx, result, http.StatusOK)
	}
}

// handleEventsCreate accepts either a plain JSON event or a multipart form
// whose "event" part carries the JSON and whose file parts become staged
// attachments.
func (s *Server) handleEventsCreate(c echo.Context) error {
	apiCtx, err := s.newContext(c, true)
	if err != nil {
		return err
	}

	var params api.Params
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		params, err = s.collectMultipartParams(c)
	} else {
		params, err = s.collectParams(c)
	}
	if err != nil {
		return err
	}

	result := api.NewResult()
	if err := s.registry.Call(apiCtx, "events.create", params, result); err != nil {
		if staged, ok := params["attachedFiles"].([]*attachments.StagedFile); ok {
			for _, sf := range staged {
				s.services.Files.DiscardStaged(sf)
			}
		}
		return err
	}
	return s.writeResult(c, apiCtx, result, http.StatusCreated)
}

// collectMultipartParams parses a multipart event upload: the "event" field
// (JSON) becomes the params, every file part is staged into the temp area
// and handed to the method as typed values.
func (s *Server) collectMultipartParams(c echo.Context) (api.Params, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apierror.New(apierror.InvalidRequestStructure, "Malformed multipart body")
	}

	params := api.Params{}
	if raw, ok := form.Value["event"]; ok && len(raw) > 0 {
		var body map[string]interface{}
		if err := json.Unmarshal([]byte(raw[0]), &body); err != nil {
			return nil, apierror.New(apierror.InvalidParametersFormat,
				"Malformed JSON in multipart event field")
		}
		for k, v := range body {
			params[k] = v
		}
	}
	for key, values := range form.Value {
		if key == "event" || len(values) == 0 {
			continue
		}
		params[key] = coerceQueryValue(values[0])
	}

	var staged []*attachments.StagedFile
	fileNames := map[string]string{}
	fileTypes := map[string]string{}
	for _, headers := range form.File {
		for _, header := range headers {
			src, err := header.Open()
			if err != nil {
				return nil, apierror.New(apierror.InvalidRequestStructure,
					"Failed to read uploaded file")
			}
			sf, err := s.services.Files.Stage(src)
			src.Close()
			if err != nil {
				for _, prev := range staged {
					s.services.Files.DiscardStaged(prev)
				}
				return nil, err
			}
			staged = append(staged, sf)
			fileNames[sf.ID] = header.Filename
			fileTypes[sf.ID] = header.Header.Get(echo.HeaderContentType)
		}
	}
	if len(staged) > 0 {
		params["attachedFiles"] = staged
		params["attachedFileNames"] = fileNames
		params["attachedFileTypes"] = fileTypes
	}
	return params, nil
}

// handleAttachmentGet streams an attached file. Authentication accepts the
// regular sources or a per-file read token; the auth query parameter is
// explicitly rejected here so tokens never end up in attachment URLs.
func (s *Server) handleAttachmentGet(c echo.Context) error {
	if c.QueryParam("auth") != "" {
		return apierror.New(apierror.Forbidden,
			"The auth query parameter is not accepted on attachment routes")
	}

	eventID := c.Param("id")
	fileID := c.Param("fileId")

	var apiCtx *api.Context
	if readToken := c.QueryParam("readToken"); readToken != "" {
		var err error
		apiCtx, err = api.NewContext(c.Request().Context(), s.services, c.Param("username"))
		if err != nil {
			return err
		}
		if err := apiCtx.AuthenticateReadToken(readToken, fileID); err != nil {
			return err
		}
	} else {
		var err error
		apiCtx, err = s.newContext(c, true)
		if err != nil {
			return err
		}
	}

	event, err := s.services.Stores.Events.Get(apiCtx.Ctx, apiCtx.Username, eventID)
	if err == storage.ErrNotFound {
		return apierror.NewUnknownResource("event", eventID)
	}
	if err != nil {
		return err
	}
	if event.Deleted != nil {
		return apierror.NewUnknownResource("event", eventID)
	}
	if !apiCtx.Eval.CanReadEvent(event.StreamIDs) {
		return apierror.New(apierror.Forbidden,
			"Insufficient permissions to read this event")
	}

	var attachment *model.Attachment
	for i := range event.Attachments {
		if event.Attachments[i].ID == fileID {
			attachment = &event.Attachments[i]
			break
		}
	}
	if attachment == nil {
		return apierror.NewUnknownResource("attachment", fileID)
	}

	f, err := s.services.Files.Open(apiCtx.Username, eventID, fileID)
	if err != nil {
		return apierror.NewUnknownResource("attachment", fileID)
	}
	defer f.Close()

	if s.services.Config.Audit.Active {
		common.Logger.WithField("username", apiCtx.Username).
			WithField("accessId", apiCtx.ActorID()).
			WithField("eventId", eventID).
			WithField("fileId", fileID).
			Info("attachment read")
	}

	header := c.Response().Header()
	if attachment.Type != "" {
		header.Set(echo.HeaderContentType, attachment.Type)
	} else {
		header.Set(echo.HeaderContentType, echo.MIMEOctetStream)
	}
	header.Set(echo.HeaderContentLength, strconv.FormatInt(attachment.Size, 10))
	header.Set("Content-Disposition", attachments.ContentDisposition(attachment.FileName))
	if attachment.Integrity != "" {
		header.Set("Digest", attachment.Integrity)
	}
	c.Response().WriteHeader(http.StatusOK)
	_, err = io.Copy(c.Response(), f)
	return err
}
