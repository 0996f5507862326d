package model

// Camera describes one channel published by the camera server's configuration listing.
// Values are taken verbatim from the listing and never change afterwards.
type Camera struct {
	ID                      string `xml:"Id,attr" json:"id"`
	Name                    string `xml:"Name,attr" json:"name"`
	Description             string `xml:"Description,attr" json:"description"`
	DeviceInfo              string `xml:"DeviceInfo,attr" json:"deviceInfo"`
	AttachedToServer        string `xml:"AttachedToServer,attr" json:"attachedToServer"`
	IsDisabled              bool   `xml:"IsDisabled,attr" json:"isDisabled"`
	IsSoundOn               bool   `xml:"IsSoundOn,attr" json:"isSoundOn"`
	IsArchivingEnabled      bool   `xml:"IsArchivingEnabled,attr" json:"isArchivingEnabled"`
	IsSoundArchivingEnabled bool   `xml:"IsSoundArchivingEnabled,attr" json:"isSoundArchivingEnabled"`
	AllowedRealtime         bool   `xml:"AllowedRealtime,attr" json:"allowedRealtime"`
	AllowedArchive          bool   `xml:"AllowedArchive,attr" json:"allowedArchive"`
	IsTransmitSoundOn       bool   `xml:"IsTransmitSoundOn,attr" json:"isTransmitSoundOn"`
	ArchiveMode             string `xml:"ArchiveMode,attr" json:"archiveMode"`
	ArchiveStreamType       string `xml:"ArchiveStreamType,attr" json:"archiveStreamType"`
	IsFaceAnalystEnabled    bool   `xml:"IsFaceAnalystEnabled,attr" json:"isFaceAnalystEnabled"`
}

// Streamable reports whether a live stream may be requested for the camera.
func (c Camera) Streamable() bool {
	return !c.IsDisabled && c.AllowedRealtime
}

// String returns the display name, falling back to the id.
func (c Camera) String() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
