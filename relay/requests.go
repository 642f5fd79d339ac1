package relay

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type CreateDocRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

type TitleRequest struct {
	Title string `json:"title"`
}

type ShareRequest struct {
	Permission string `json:"permission"`
}

type ShareResponse struct {
	ShareURL   string `json:"shareUrl"`
	Token      string `json:"token"`
	Permission string `json:"permission"`
}
